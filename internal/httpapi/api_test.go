package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

var testNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	t       *testing.T
	store   *tracker.InMemory
	tokens  *auth.TokenIssuer
	api     *API
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := tracker.NewInMemory(auth.BuiltinRoles...)
	store.SetClock(func() time.Time { return testNow })
	tokens, err := auth.NewTokenIssuer([]byte("test-secret"), time.Hour,
		auth.NewResolver(store.Roles(), nil),
		auth.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	api := New(store, tokens, Options{
		Logger:          zaptest.NewLogger(t),
		Version:         "test",
		HashCost:        4,
		RateLimitBurst:  10000,
		RateLimitPerSec: 10000,
		Outcome:         func() bool { return true },
		Now:             func() time.Time { return testNow },
	})
	return &testEnv{t: t, store: store, tokens: tokens, api: api, handler: api.Handler()}
}

// seedUser inserts a user with the given roles and returns it with a session token.
func (e *testEnv) seedUser(given string, roles ...auth.Role) (*tracker.User, string) {
	e.t.Helper()
	hash, err := auth.HashPassword("password123", 4)
	require.NoError(e.t, err)
	id := ids.NewObjectID()
	u := &tracker.User{
		ID:           id,
		EmailAddress: given + "@example.com",
		Password:     hash,
		GivenName:    given,
		FamilyName:   "Tester",
		FullName:     tracker.FullName(given, "Tester"),
		Role:         auth.NewRoleSet(roles...),
		CreatedOn:    testNow,
		CreatedBy:    &id,
	}
	require.NoError(e.t, e.store.Users().Create(context.Background(), u))
	token, _, err := e.tokens.Issue(context.Background(), u.Identity())
	require.NoError(e.t, err)
	return u, token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:5000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// newBug creates a bug through the API and returns its id.
func (e *testEnv) newBug(token, title string) string {
	e.t.Helper()
	rr := e.do(http.MethodPut, "/api/bug/new", token, map[string]string{
		"title":            title,
		"description":      "it breaks",
		"stepsToReproduce": "click it",
	})
	require.Equal(e.t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeMap(e.t, rr)["bugId"].(string)
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
