package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"bugtracker.org/internal/tracker"
)

type users struct{ s *Store }

func (u users) coll() *mongo.Collection { return u.s.db.Collection(tracker.ColUser) }

func (u users) Create(ctx context.Context, user *tracker.User) error {
	doc := *user
	doc.EmailAddress = tracker.NormalizeEmail(user.EmailAddress)
	if _, err := u.coll().InsertOne(ctx, &doc); err != nil {
		return translate(err)
	}
	return nil
}

func (u users) Get(ctx context.Context, id primitive.ObjectID) (*tracker.User, error) {
	return u.findOne(ctx, bson.M{tracker.FieldID: id})
}

func (u users) GetByEmail(ctx context.Context, email string) (*tracker.User, error) {
	return u.findOne(ctx, bson.M{tracker.FieldEmailAddress: tracker.NormalizeEmail(email)})
}

func (u users) findOne(ctx context.Context, filter bson.M) (*tracker.User, error) {
	var out tracker.User
	if err := u.coll().FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (u users) List(ctx context.Context, q tracker.UserQuery) ([]tracker.UserSummary, error) {
	opts := findOptions(q.Sort(), q.Page).SetProjection(userProjection)
	cur, err := u.coll().Find(ctx, userFilter(q, u.s.now()), opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var out []tracker.UserSummary
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

func (u users) Update(ctx context.Context, id primitive.ObjectID, upd tracker.UserUpdate) error {
	res, err := u.coll().UpdateOne(ctx, bson.M{tracker.FieldID: id}, bson.M{"$set": userSet(upd)})
	return matchedOrNotFound(res, err)
}

func (u users) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := u.coll().DeleteOne(ctx, bson.M{tracker.FieldID: id})
	if err != nil {
		return translate(err)
	}
	if res.DeletedCount == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
