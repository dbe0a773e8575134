package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"bugtracker.org/internal/tracker"
)

type bugs struct{ s *Store }

func (b bugs) coll() *mongo.Collection { return b.s.db.Collection(tracker.ColBug) }

func (b bugs) Create(ctx context.Context, bug *tracker.Bug) error {
	doc := *bug
	if doc.Comments == nil {
		doc.Comments = []tracker.Comment{}
	}
	if doc.Tests == nil {
		doc.Tests = []tracker.TestCase{}
	}
	if _, err := b.coll().InsertOne(ctx, &doc); err != nil {
		return translate(err)
	}
	return nil
}

func (b bugs) Get(ctx context.Context, id primitive.ObjectID) (*tracker.Bug, error) {
	var out tracker.Bug
	if err := b.coll().FindOne(ctx, bson.M{tracker.FieldID: id}).Decode(&out); err != nil {
		return nil, translate(err)
	}
	if out.Comments == nil {
		out.Comments = []tracker.Comment{}
	}
	if out.Tests == nil {
		out.Tests = []tracker.TestCase{}
	}
	return &out, nil
}

func (b bugs) List(ctx context.Context, q tracker.BugQuery) ([]tracker.BugSummary, error) {
	opts := findOptions(q.Sort(), q.Page).SetProjection(bugProjection)
	cur, err := b.coll().Find(ctx, bugFilter(q, b.s.now()), opts)
	if err != nil {
		return nil, fmt.Errorf("find bugs: %w", err)
	}
	var out []tracker.BugSummary
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode bugs: %w", err)
	}
	return out, nil
}

func (b bugs) Update(ctx context.Context, id primitive.ObjectID, upd tracker.BugUpdate) error {
	res, err := b.coll().UpdateOne(ctx, bson.M{tracker.FieldID: id}, bson.M{"$set": bugSet(upd)})
	return matchedOrNotFound(res, err)
}

func (b bugs) AddComment(ctx context.Context, bugID primitive.ObjectID, c tracker.Comment) error {
	res, err := b.coll().UpdateOne(ctx, bson.M{tracker.FieldID: bugID}, bson.M{"$push": bson.M{"comments": c}})
	return matchedOrNotFound(res, err)
}

func (b bugs) AddTest(ctx context.Context, bugID primitive.ObjectID, tc tracker.TestCase) error {
	res, err := b.coll().UpdateOne(ctx, bson.M{tracker.FieldID: bugID}, bson.M{"$push": bson.M{"tests": tc}})
	return matchedOrNotFound(res, err)
}

func (b bugs) UpdateTest(ctx context.Context, bugID, testID primitive.ObjectID, upd tracker.TestUpdate) error {
	filter := bson.M{tracker.FieldID: bugID, "tests._id": testID}
	res, err := b.coll().UpdateOne(ctx, filter, bson.M{"$set": testSet(upd)})
	return matchedOrNotFound(res, err)
}

func (b bugs) RemoveTest(ctx context.Context, bugID, testID primitive.ObjectID) error {
	filter := bson.M{tracker.FieldID: bugID, "tests._id": testID}
	res, err := b.coll().UpdateOne(ctx, filter, bson.M{"$pull": bson.M{"tests": bson.M{tracker.FieldID: testID}}})
	return matchedOrNotFound(res, err)
}
