package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/tracker"
)

func TestRecordAppendsEditWithActingClaims(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := tracker.NewInMemory()
	rec := NewRecorder(store.Edits(), zap.New(core))

	claims := &auth.Claims{
		UserID:      "5f8d0d55b54764421b7156c3",
		FullName:    "Quinn Analyst",
		Role:        auth.RoleSet{auth.RoleQualityAnalyst},
		Permissions: auth.PermissionSet{auth.PermExecuteTestCase: {}},
	}
	ctx := auth.ContextWithClaims(WithRequestID(context.Background(), "req-123"), claims)

	err := rec.Record(ctx, Entry{
		Op:     tracker.OpExecute,
		Col:    tracker.ColTest,
		Target: map[string]any{"bugId": "b1", "testId": "t1"},
		Update: map[string]any{"executedTest": tracker.ExecutePassed},
	})
	require.NoError(t, err)

	records := store.EditRecords()
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, tracker.OpExecute, got.Op)
	assert.Equal(t, tracker.ColTest, got.Col)
	assert.Equal(t, "t1", got.Target["testId"])
	assert.Equal(t, tracker.ExecutePassed, got.Update["executedTest"])
	assert.Equal(t, "5f8d0d55b54764421b7156c3", got.Auth["_id"])
	assert.Equal(t, map[string]any{"canExecuteTestCase": true}, got.Auth["permissions"])
	assert.False(t, got.Timestamp.IsZero())

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "execute", fields["op"])
}

func TestRecordPrefersExplicitActorAndRedactsPasswords(t *testing.T) {
	store := tracker.NewInMemory()
	rec := NewRecorder(store.Edits(), nil)

	err := rec.Record(context.Background(), Entry{
		Op:     tracker.OpInsert,
		Col:    tracker.ColUser,
		Target: map[string]any{"_id": "u1"},
		Update: map[string]any{"emailAddress": "a@example.com", "password": "$2a$10$hash"},
		Actor:  &auth.Claims{UserID: "u1"},
	})
	require.NoError(t, err)

	got := store.EditRecords()[0]
	assert.Equal(t, "u1", got.Auth["_id"])
	assert.Equal(t, "********", got.Update["password"])
	assert.Equal(t, "a@example.com", got.Update["emailAddress"])
}

func TestRecordRequiresIdentityAndKind(t *testing.T) {
	rec := NewRecorder(tracker.NewInMemory().Edits(), nil)

	err := rec.Record(context.Background(), Entry{Op: tracker.OpInsert, Col: tracker.ColBug})
	assert.Error(t, err)

	ctx := auth.ContextWithClaims(context.Background(), &auth.Claims{UserID: "u1"})
	assert.Error(t, rec.Record(ctx, Entry{Col: tracker.ColBug}))
	assert.Error(t, rec.Record(ctx, Entry{Op: tracker.OpInsert}))
}

type brokenEdits struct{}

func (brokenEdits) Append(context.Context, *tracker.EditRecord) error {
	return errors.New("disk full")
}

func TestRecordSurfacesAppendFailure(t *testing.T) {
	rec := NewRecorder(brokenEdits{}, nil)
	ctx := auth.ContextWithClaims(context.Background(), &auth.Claims{UserID: "u1"})

	err := rec.Record(ctx, Entry{Op: tracker.OpDelete, Col: tracker.ColTest})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRequestIDContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(context.Background(), "  ")))
	assert.Equal(t, "r1", RequestIDFromContext(WithRequestID(context.Background(), "r1")))
}
