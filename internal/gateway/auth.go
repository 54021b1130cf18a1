package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/dialdeck/internal/config"
)

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// PasswordHeader carries the password for REST requests in password mode.
const PasswordHeader = "X-Dialdeck-Password"

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the effective gateway credentials.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves credentials from config, then the environment.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("DIALDECK_GATEWAY_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("DIALDECK_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		} else {
			auth.Mode = AuthModeToken
		}
	}
	return auth
}

// Authorize checks client credentials against the server's.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch server.Mode {
	case AuthModeToken:
		if server.Token == "" {
			return AuthResult{Reason: "server token not configured"}
		}
		if client.Token == "" {
			return AuthResult{Reason: "token required"}
		}
		if !safeEqual(client.Token, server.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModeToken}

	case AuthModePassword:
		if server.Password == "" {
			return AuthResult{Reason: "server password not configured"}
		}
		if client.Password == "" {
			return AuthResult{Reason: "password required"}
		}
		if !safeEqual(client.Password, server.Password) {
			return AuthResult{Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModePassword}

	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

// credentialsFromRequest reads a bearer token and the password header.
func credentialsFromRequest(r *http.Request) *ConnectAuth {
	creds := &ConnectAuth{Password: r.Header.Get(PasswordHeader)}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		creds.Token = strings.TrimSpace(h[7:])
	}
	return creds
}

// safeEqual is a constant-time comparison that does not leak length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per remote host.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	l := &authRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.periodicCleanup()
	return l
}

func (l *authRateLimiter) close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for host := range l.failures {
				l.prune(host)
			}
			l.mu.Unlock()
		}
	}
}

// prune drops failures outside the window. Callers hold mu.
func (l *authRateLimiter) prune(host string) []time.Time {
	cutoff := l.now().Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = filtered
	return filtered
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(host)) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.failures[host]; !ok && len(l.failures) >= authRateMaxIPs {
		var oldestHost string
		var oldest time.Time
		for h, times := range l.failures {
			if len(times) > 0 && (oldestHost == "" || times[0].Before(oldest)) {
				oldestHost, oldest = h, times[0]
			}
		}
		delete(l.failures, oldestHost)
	}
	l.failures[host] = append(l.failures[host], l.now())
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// requireAuth rejects REST requests without valid credentials.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
			respondDetail(w, http.StatusTooManyRequests, "too many failed authentication attempts")
			return
		}
		res := Authorize(s.auth, credentialsFromRequest(r))
		if !res.OK {
			s.limiter.recordFailure(r.RemoteAddr)
			s.log.Debug().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("unauthorized request")
			respondDetail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
