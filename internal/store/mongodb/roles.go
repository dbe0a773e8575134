package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/tracker"
)

type roles struct{ s *Store }

func (r roles) FindRoles(ctx context.Context, names []auth.Role) ([]auth.RoleDefinition, error) {
	set := auth.NewRoleSet(names...)
	if len(set) == 0 {
		return nil, nil
	}
	cur, err := r.s.db.Collection(tracker.ColRole).Find(ctx, bson.M{"name": bson.M{"$in": set.Strings()}})
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	var out []auth.RoleDefinition
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return out, nil
}
