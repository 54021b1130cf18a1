// Package dialer drives the outbound call lifecycle:
// idle -> calling -> connected|error -> idle.
package dialer

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
)

const (
	// DefaultCountryCode is prefixed to bare 10-digit national numbers.
	DefaultCountryCode = "+57"
	// DefaultResetAfter is how long connected/error stay visible.
	DefaultResetAfter = 5 * time.Second
)

// Caller sends one call-initiation request and returns the provider's call
// SID.
type Caller interface {
	InitiateCall(ctx context.Context, req domain.CallRequest) (string, error)
}

// Normalize applies the national-number heuristic: a trimmed input without a
// leading "+" that is exactly 10 digits gets countryCode prefixed. Anything
// else passes through trimmed but otherwise unchanged.
func Normalize(raw, countryCode string) string {
	n := strings.TrimSpace(raw)
	if strings.HasPrefix(n, "+") || len(n) != 10 {
		return n
	}
	for i := 0; i < len(n); i++ {
		if n[i] < '0' || n[i] > '9' {
			return n
		}
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return countryCode + n
}

// Snapshot is a point-in-time view of the dialer.
type Snapshot struct {
	State   domain.CallStatus `json:"state"`
	CallSID string            `json:"call_sid,omitempty"`
	Error   string            `json:"error,omitempty"`
	Number  string            `json:"number,omitempty"`
	AgentID string            `json:"agent_id,omitempty"`
}

// Result is returned from a completed submission.
type Result struct {
	AttemptID string             `json:"attempt_id"`
	CallSID   string             `json:"call_sid"`
	Request   domain.CallRequest `json:"request"`
}

// Options configures a Dialer. Zero values fall back to defaults.
type Options struct {
	CountryCode string
	ResetAfter  time.Duration
	Hooks       *hooks.Manager
}

// Dialer tracks at most one outstanding call attempt.
type Dialer struct {
	caller      Caller
	countryCode string
	resetAfter  time.Duration
	hooks       *hooks.Manager
	log         *logging.Logger

	mu    sync.Mutex
	state Snapshot
	gen   uint64 // bumped on every attempt; stale reset timers compare against it
	timer *time.Timer
}

// New creates an idle dialer.
func New(caller Caller, opts Options, log *logging.Logger) *Dialer {
	if opts.CountryCode == "" {
		opts.CountryCode = DefaultCountryCode
	}
	if opts.ResetAfter <= 0 {
		opts.ResetAfter = DefaultResetAfter
	}
	return &Dialer{
		caller:      caller,
		countryCode: opts.CountryCode,
		resetAfter:  opts.ResetAfter,
		hooks:       opts.Hooks,
		log:         log.Sub("dialer"),
		state:       Snapshot{State: domain.CallStatusIdle},
	}
}

// Status returns the current snapshot.
func (d *Dialer) Status() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Submit starts a call attempt. It returns a ValidationError for an empty
// number and ErrCallInFlight while another attempt is calling; neither
// changes state or sends a request. A failed attempt moves the dialer to
// error and returns the backend error.
func (d *Dialer) Submit(ctx context.Context, number, agentID string, values map[string]string) (Result, error) {
	if strings.TrimSpace(number) == "" {
		return Result{}, &domain.ValidationError{Field: "to_number", Message: "phone number is required"}
	}

	req := domain.CallRequest{
		ToNumber:  Normalize(number, d.countryCode),
		Variables: maps.Clone(values),
		AgentID:   agentID,
	}
	if req.Variables == nil {
		req.Variables = map[string]string{}
	}

	d.mu.Lock()
	if d.state.State == domain.CallStatusCalling {
		d.mu.Unlock()
		return Result{}, domain.ErrCallInFlight
	}
	d.stopTimer()
	d.gen++
	gen := d.gen
	attemptID := uuid.NewString()
	d.state = Snapshot{
		State:   domain.CallStatusCalling,
		Number:  req.ToNumber,
		AgentID: req.AgentID,
	}
	d.mu.Unlock()

	d.log.Info().Str("to", req.ToNumber).Str("agentId", req.AgentID).Msg("initiating call")
	d.emit(ctx, hooks.EventCallSubmitted, map[string]any{
		"attemptId": attemptID,
		"to":        req.ToNumber,
		"agentId":   req.AgentID,
		"variables": len(req.Variables),
	})

	// An abandoned submit only discards the result; the backend request
	// still completes, bounded by the client's own timeout.
	sid, err := d.caller.InitiateCall(context.WithoutCancel(ctx), req)

	d.mu.Lock()
	if err != nil {
		msg := domain.UserMessage(err, domain.FallbackCallMessage)
		d.state.State = domain.CallStatusError
		d.state.Error = msg
	} else {
		d.state.State = domain.CallStatusConnected
		d.state.CallSID = sid
	}
	d.scheduleReset(gen)
	snap := d.state
	d.mu.Unlock()

	if err != nil {
		d.log.Warn().Err(err).Str("to", req.ToNumber).Msg("call initiation failed")
		d.emit(ctx, hooks.EventCallFailed, map[string]any{
			"attemptId": attemptID,
			"to":        req.ToNumber,
			"agentId":   req.AgentID,
			"error":     snap.Error,
		})
		return Result{AttemptID: attemptID, Request: req}, err
	}

	d.log.Info().Str("callSid", sid).Str("to", req.ToNumber).Msg("call connected")
	d.emit(ctx, hooks.EventCallConnected, map[string]any{
		"attemptId": attemptID,
		"to":        req.ToNumber,
		"agentId":   req.AgentID,
		"callSid":   sid,
	})
	return Result{AttemptID: attemptID, CallSID: sid, Request: req}, nil
}

// Reset returns the dialer to idle immediately unless an attempt is calling.
func (d *Dialer) Reset() {
	d.mu.Lock()
	if d.state.State == domain.CallStatusCalling || d.state.State == domain.CallStatusIdle {
		d.mu.Unlock()
		return
	}
	d.stopTimer()
	d.state = Snapshot{State: domain.CallStatusIdle}
	d.mu.Unlock()
	d.emit(context.Background(), hooks.EventDialerIdle, nil)
}

// Close stops any pending reset timer.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimer()
}

// scheduleReset must be called with mu held.
func (d *Dialer) scheduleReset(gen uint64) {
	d.timer = time.AfterFunc(d.resetAfter, func() {
		d.mu.Lock()
		if d.gen != gen || d.state.State == domain.CallStatusCalling {
			d.mu.Unlock()
			return
		}
		d.state = Snapshot{State: domain.CallStatusIdle}
		d.timer = nil
		d.mu.Unlock()

		d.log.Debug().Msg("dialer reset to idle")
		d.emit(context.Background(), hooks.EventDialerIdle, nil)
	})
}

// stopTimer must be called with mu held.
func (d *Dialer) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Dialer) emit(ctx context.Context, event string, data map[string]any) {
	d.hooks.Emit(context.WithoutCancel(ctx), event, data)
}
