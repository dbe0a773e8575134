package auth

import (
	"context"

	"go.uber.org/zap"
)

// RoleSource looks up role definitions by name. Names with no definition are
// simply absent from the result.
type RoleSource interface {
	FindRoles(ctx context.Context, names []Role) ([]RoleDefinition, error)
}

// StaticRoles serves a fixed role table.
type StaticRoles []RoleDefinition

func (s StaticRoles) FindRoles(_ context.Context, names []Role) ([]RoleDefinition, error) {
	want := NewRoleSet(names...)
	var out []RoleDefinition
	for _, def := range s {
		if want.Contains(def.Name) {
			out = append(out, def)
		}
	}
	return out, nil
}

// Resolver turns a role set into the union of the permissions those roles grant.
type Resolver struct {
	source RoleSource
	log    *zap.Logger
}

// NewResolver wires a role source. A nil logger discards output.
func NewResolver(source RoleSource, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{source: source, log: log}
}

// Permissions never fails: unknown roles contribute nothing, and a failed lookup
// yields an empty set.
func (r *Resolver) Permissions(ctx context.Context, roles RoleSet) PermissionSet {
	granted := make(PermissionSet)
	known := make([]Role, 0, len(roles))
	for _, role := range NewRoleSet(roles...) {
		if role.Valid() {
			known = append(known, role)
		}
	}
	if len(known) == 0 || r.source == nil {
		return granted
	}

	defs, err := r.source.FindRoles(ctx, known)
	if err != nil {
		r.log.Warn("role lookup failed; issuing empty permission set",
			zap.Strings("roles", RoleSet(known).Strings()), zap.Error(err))
		return granted
	}
	for _, def := range defs {
		if !RoleSet(known).Contains(def.Name) {
			continue
		}
		for p := range def.Granted() {
			granted.Add(p)
		}
	}
	return granted
}
