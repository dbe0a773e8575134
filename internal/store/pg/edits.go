package pg

import (
	"context"
	"database/sql"
	"fmt"

	"bugtracker.org/internal/tracker"
)

type edits struct{ s *Store }

func (e edits) Append(ctx context.Context, rec *tracker.EditRecord) error {
	target, err := encodeJSON(rec.Target)
	if err != nil {
		return fmt.Errorf("encode target: %w", err)
	}
	authDoc, err := encodeJSON(rec.Auth)
	if err != nil {
		return fmt.Errorf("encode auth: %w", err)
	}
	var payload sql.NullString
	if rec.Update != nil {
		doc, err := encodeJSON(rec.Update)
		if err != nil {
			return fmt.Errorf("encode update: %w", err)
		}
		payload = sql.NullString{String: doc, Valid: true}
	}
	_, err = e.s.db.ExecContext(ctx, `
		insert into edits (id, timestamp, op, col, target, payload, auth)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID.Hex(), rec.Timestamp.UTC(), string(rec.Op), rec.Col, target, payload, authDoc)
	return translate(err)
}
