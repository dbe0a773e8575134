package mongodb

import (
	"context"

	"bugtracker.org/internal/tracker"
)

type edits struct{ s *Store }

func (e edits) Append(ctx context.Context, rec *tracker.EditRecord) error {
	_, err := e.s.db.Collection(tracker.ColEdit).InsertOne(ctx, rec)
	return translate(err)
}
