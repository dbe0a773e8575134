package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bugtracker.org/internal/audit"
	"bugtracker.org/internal/auth"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(1, 1)(base))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(testContext(t)))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(testContext(t)))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.NotEmpty(t, rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.NotEmpty(t, body["request_id"])

	other := req.Clone(testContext(t))
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code)
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.Header.Set(requestIDHeader, "rid-123")
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "rid-123", rr.Header().Get(requestIDHeader))
	entries := logs.FilterMessage("request_complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "rid-123", fields["request_id"])
	assert.Equal(t, http.MethodGet, fields["method"])
	assert.Equal(t, "/log-test", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.Equal(t, "127.0.0.1", fields["remote_ip"])
	assert.Equal(t, "middleware-test", fields["user_agent"])
	assert.Contains(t, fields, "duration_ms")
}

func TestRecoverReturnsPanicMessage(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RequestID(Recover(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "boom", body["error"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/bug/list", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/nope?x=1", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, "Sorry couldn't find /api/nope?x=1", body["error"])
	assert.NotEmpty(t, body["request_id"])

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodPatch, "/api/bug/list", "", nil).Code)
}

func TestRequestIDReachesAuditContext(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, seen, 26)
	assert.Equal(t, seen, rr.Header().Get(requestIDHeader))
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil).Code)
	ready := env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, ready.Code)
	assert.Equal(t, "ready", decodeMap(t, ready)["status"])

	info := decodeMap(t, env.do(http.MethodGet, "/v1/info", "", nil))
	assert.Equal(t, serviceName, info["name"])
	assert.Equal(t, "test", info["version"])
	assert.Equal(t, "2024-05-10T09:30:00Z", info["time"])
}

func TestGuards(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	dev := &auth.Claims{UserID: "u1", Role: auth.RoleSet{auth.RoleDeveloper}, Permissions: auth.PermissionSet{auth.PermViewData: {}}}

	cases := []struct {
		name   string
		mw     Middleware
		claims *auth.Claims
		want   int
	}{
		{"auth anonymous", RequireAuth, nil, http.StatusUnauthorized},
		{"auth present", RequireAuth, dev, http.StatusNoContent},
		{"role held", RequireRole(auth.RoleDeveloper), dev, http.StatusNoContent},
		{"role missing", RequireRole(auth.RoleQualityAnalyst), dev, http.StatusForbidden},
		{"any role held", RequireAnyRole(auth.RoleTechnicalManager, auth.RoleDeveloper), dev, http.StatusNoContent},
		{"any role missing", RequireAnyRole(auth.RoleTechnicalManager, auth.RoleProductManager), dev, http.StatusForbidden},
		{"permission held", RequirePermission(auth.PermViewData), dev, http.StatusNoContent},
		{"permission missing", RequirePermission(auth.PermEditAnyBug), dev, http.StatusForbidden},
		{"permission anonymous", RequirePermission(auth.PermViewData), nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.ContextWithClaims(req.Context(), tc.claims))
			rr := httptest.NewRecorder()
			tc.mw(ok).ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
