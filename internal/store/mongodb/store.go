// Package mongodb is the document-database backend of tracker.Store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/tracker"
)

// Store implements tracker.Store over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Open connects to uri and selects database name. The connection is verified with a ping.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("bugtracker"))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(name), now: time.Now}, nil
}

func (s *Store) Users() tracker.UserStore { return users{s} }
func (s *Store) Bugs() tracker.BugStore   { return bugs{s} }
func (s *Store) Roles() tracker.RoleStore { return roles{s} }
func (s *Store) Edits() tracker.EditStore { return edits{s} }

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureSchema creates the indexes the queries rely on and inserts any role
// definition that is not present yet. Existing role documents are left untouched.
func (s *Store) EnsureSchema(ctx context.Context, seed []auth.RoleDefinition) error {
	_, err := s.db.Collection(tracker.ColUser).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: tracker.FieldEmailAddress, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{Keys: bson.D{{Key: tracker.FieldCreatedOn, Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = s.db.Collection(tracker.ColBug).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: tracker.FieldCreatedOn, Value: -1}, {Key: tracker.FieldID, Value: -1}}},
		{Keys: bson.D{{Key: tracker.FieldBugClass, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create bug indexes: %w", err)
	}

	_, err = s.db.Collection(tracker.ColRole).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create role index: %w", err)
	}

	if len(seed) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(seed))
	for _, def := range seed {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"name": def.Name}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{"permissions": def.Permissions}}).
			SetUpsert(true))
	}
	if _, err := s.db.Collection(tracker.ColRole).BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return tracker.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return tracker.ErrAlreadyExists
	}
	return err
}

func matchedOrNotFound(res *mongo.UpdateResult, err error) error {
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
