package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/obs"
	"bugtracker.org/internal/tracker"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry describes one successful mutation.
type Entry struct {
	Op     tracker.Op
	Col    string
	Target map[string]any
	Update map[string]any
	// Actor overrides the claims found on the context, e.g. right after registration.
	Actor *auth.Claims
}

// Recorder appends edit records after mutations commit.
type Recorder struct {
	edits tracker.EditStore
	log   *zap.Logger
	now   func() time.Time
}

// NewRecorder wires the edit store. A nil logger discards output.
func NewRecorder(edits tracker.EditStore, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{edits: edits, log: log, now: time.Now}
}

// Record persists e. An error here means the primary mutation already happened
// but its edit record did not; callers report it as an internal failure.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Op == "" || strings.TrimSpace(e.Col) == "" {
		return errors.New("audit: op and col are required")
	}
	actor := e.Actor
	if actor == nil {
		claims, ok := auth.ClaimsFromContext(ctx)
		if !ok {
			return errors.New("audit: no acting identity")
		}
		actor = claims
	}

	rec := &tracker.EditRecord{
		ID:        ids.NewObjectID(),
		Timestamp: r.now().UTC(),
		Op:        e.Op,
		Col:       e.Col,
		Target:    e.Target,
		Update:    Redact(e.Update),
		Auth:      actor.Map(),
	}
	if err := r.edits.Append(ctx, rec); err != nil {
		r.log.Error("edit record append failed",
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.String("op", string(e.Op)),
			zap.String("col", e.Col),
			zap.Error(err))
		return fmt.Errorf("append edit record: %w", err)
	}

	obs.AuditRecorded(string(e.Op), e.Col)
	r.log.Info("audit",
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.String("edit_id", rec.ID.Hex()),
		zap.String("op", string(e.Op)),
		zap.String("col", e.Col),
		zap.Any("target", e.Target),
		zap.String("user_id", actor.UserID))
	return nil
}

const redacted = "********"

// Redact returns a copy of payload with secret values masked.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if strings.EqualFold(k, "password") {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}
