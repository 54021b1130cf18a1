package analytics

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
)

// DefaultLimit is the number of recent calls requested when none is set.
const DefaultLimit = 50

// Fetcher returns up to limit recent calls, newest first.
type Fetcher interface {
	ListCalls(ctx context.Context, limit int) ([]domain.CallLogEntry, error)
}

// History is the client-side recent-call list. Concurrent refreshes are not
// deduplicated; whichever response arrives last is kept.
type History struct {
	fetcher Fetcher
	limit   int
	hooks   *hooks.Manager
	log     *logging.Logger

	mu      sync.RWMutex
	entries []domain.CallLogEntry
	loaded  bool
}

// NewHistory creates an empty history. limit <= 0 means DefaultLimit.
func NewHistory(f Fetcher, limit int, h *hooks.Manager, log *logging.Logger) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{
		fetcher: f,
		limit:   limit,
		hooks:   h,
		log:     log.Sub("calls"),
	}
}

// EnsureLoaded fetches once; later calls are no-ops after a success.
func (h *History) EnsureLoaded(ctx context.Context) error {
	h.mu.RLock()
	loaded := h.loaded
	h.mu.RUnlock()
	if loaded {
		return nil
	}
	return h.Refresh(ctx)
}

// Refresh fetches the latest calls. On failure the previous list is kept and
// the error is returned.
func (h *History) Refresh(ctx context.Context) error {
	entries, err := h.fetcher.ListCalls(ctx, h.limit)
	if err != nil {
		h.log.Warn().Err(err).Msg("refreshing call history")
		return err
	}
	if entries == nil {
		entries = []domain.CallLogEntry{}
	}

	h.mu.Lock()
	h.entries = entries
	h.loaded = true
	h.mu.Unlock()

	h.log.Debug().Int("count", len(entries)).Msg("call history refreshed")
	h.hooks.Emit(context.WithoutCancel(ctx), hooks.EventCallsRefreshed, map[string]any{"count": len(entries)})
	return nil
}

// Loaded reports whether at least one refresh has succeeded.
func (h *History) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loaded
}

// Entries returns a copy of the current list.
func (h *History) Entries() []domain.CallLogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entries == nil {
		return []domain.CallLogEntry{}
	}
	return slices.Clone(h.entries)
}

// Summary aggregates the current list.
func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Summarize(h.entries)
}

// Limit returns the number of calls requested per refresh.
func (h *History) Limit() int { return h.limit }
