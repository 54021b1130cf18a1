package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong!"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func TestResolveAuth(t *testing.T) {
	t.Run("config token", func(t *testing.T) {
		auth := ResolveAuth(config.GatewayAuth{Mode: AuthModeToken, Token: "cfg"})
		assert.Equal(t, ResolvedAuth{Mode: AuthModeToken, Token: "cfg"}, auth)
	})
	t.Run("mode inferred from password", func(t *testing.T) {
		auth := ResolveAuth(config.GatewayAuth{Password: "pw"})
		assert.Equal(t, AuthModePassword, auth.Mode)
	})
	t.Run("mode defaults to token", func(t *testing.T) {
		t.Setenv("DIALDECK_GATEWAY_PASSWORD", "")
		assert.Equal(t, AuthModeToken, ResolveAuth(config.GatewayAuth{}).Mode)
	})
	t.Run("env fills blanks", func(t *testing.T) {
		t.Setenv("DIALDECK_GATEWAY_TOKEN", "env-token")
		t.Setenv("DIALDECK_GATEWAY_PASSWORD", "env-pass")
		auth := ResolveAuth(config.GatewayAuth{Mode: AuthModeToken})
		assert.Equal(t, "env-token", auth.Token)
		assert.Equal(t, "env-pass", auth.Password)
	})
	t.Run("config wins over env", func(t *testing.T) {
		t.Setenv("DIALDECK_GATEWAY_TOKEN", "env-token")
		auth := ResolveAuth(config.GatewayAuth{Token: "cfg"})
		assert.Equal(t, "cfg", auth.Token)
	})
}

func TestAuthorize(t *testing.T) {
	token := ResolvedAuth{Mode: AuthModeToken, Token: "secret"}
	password := ResolvedAuth{Mode: AuthModePassword, Password: "pass123"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"token ok", token, &ConnectAuth{Token: "secret"}, true, ""},
		{"token mismatch", token, &ConnectAuth{Token: "wrong"}, false, "token_mismatch"},
		{"token missing", token, &ConnectAuth{}, false, "token required"},
		{"token unset on server", ResolvedAuth{Mode: AuthModeToken}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", password, &ConnectAuth{Password: "pass123"}, true, ""},
		{"password mismatch", password, &ConnectAuth{Password: "nope"}, false, "password_mismatch"},
		{"password missing", password, &ConnectAuth{Token: "secret"}, false, "password required"},
		{"password unset on server", ResolvedAuth{Mode: AuthModePassword}, &ConnectAuth{Password: "x"}, false, "server password not configured"},
		{"nil credentials", token, nil, false, "no credentials provided"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	r.Header.Set("Authorization", "bearer  abc ")
	r.Header.Set(PasswordHeader, "pw")
	creds := credentialsFromRequest(r)
	assert.Equal(t, "abc", creds.Token)
	assert.Equal(t, "pw", creds.Password)

	r = httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Empty(t, credentialsFromRequest(r).Token)
}

func newTestLimiter(t *testing.T) *authRateLimiter {
	t.Helper()
	l := newAuthRateLimiter()
	t.Cleanup(l.close)
	return l
}

func TestAuthRateLimiter(t *testing.T) {
	l := newTestLimiter(t)
	assert.True(t, l.allow("192.168.1.1:12345"))

	for i := 0; i < authRateMaxFails-1; i++ {
		l.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, l.allow("192.168.1.1:999"))

	l.recordFailure("192.168.1.1:1")
	assert.False(t, l.allow("192.168.1.1:12345"))
	assert.True(t, l.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_HostWithoutPort(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < authRateMaxFails; i++ {
		l.recordFailure("10.0.0.1")
	}
	assert.False(t, l.allow("10.0.0.1"))
}

func TestAuthRateLimiter_WindowExpires(t *testing.T) {
	l := newTestLimiter(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		l.recordFailure("10.0.0.1:1")
	}
	assert.False(t, l.allow("10.0.0.1:1"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, l.allow("10.0.0.1:1"))
}

func TestCheckWebSocketOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, checkWebSocketOrigin(nil)(req("")))
	assert.False(t, checkWebSocketOrigin(nil)(req("http://evil.com")))
	assert.True(t, checkWebSocketOrigin([]string{"*"})(req("http://anything.com")))

	check := checkWebSocketOrigin([]string{"http://one.com", "http://two.com"})
	assert.True(t, check(req("http://one.com")))
	assert.True(t, check(req("http://two.com")))
	assert.False(t, check(req("http://three.com")))
}
