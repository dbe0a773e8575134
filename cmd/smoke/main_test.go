package main

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/httpapi"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

func newServer(t *testing.T) (*httptest.Server, *tracker.InMemory) {
	t.Helper()
	store := tracker.NewInMemory(auth.BuiltinRoles...)
	tokens, err := auth.NewTokenIssuer([]byte("smoke-secret"), time.Hour, auth.NewResolver(store.Roles(), nil))
	require.NoError(t, err)
	api := httpapi.New(store, tokens, httpapi.Options{Logger: zaptest.NewLogger(t), HashCost: 4})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func smoke(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSmokeReporterOnly(t *testing.T) {
	srv, _ := newServer(t)
	out, err := smoke(t, "--url", srv.URL, "--email", "")
	require.NoError(t, err)
	assert.Contains(t, out, "steps skipped")
}

func TestSmokeWithMember(t *testing.T) {
	srv, store := newServer(t)
	hash, err := auth.HashPassword("member-password", 4)
	require.NoError(t, err)
	id := ids.NewObjectID()
	require.NoError(t, store.Users().Create(testContext(t), &tracker.User{
		ID:           id,
		EmailAddress: "member@example.com",
		Password:     hash,
		GivenName:    "Member",
		FamilyName:   "One",
		FullName:     "Member One",
		Role:         auth.RoleSet{auth.RoleDeveloper},
		CreatedOn:    time.Now().UTC(),
		CreatedBy:    &id,
	}))

	out, err := smoke(t, "--url", srv.URL, "--email", "member@example.com", "--password", "member-password")
	require.NoError(t, err)
	assert.Contains(t, out, "smoke passed: user=")

	_, err = smoke(t, "--url", srv.URL, "--email", "member@example.com", "--password", "wrong-password")
	assert.Error(t, err)
}
