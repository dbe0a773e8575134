package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Role names a job function. The set is closed; see ParseRole.
type Role string

const (
	RoleDeveloper        Role = "Developer"
	RoleBusinessAnalyst  Role = "Business Analyst"
	RoleQualityAnalyst   Role = "Quality Analyst"
	RoleProductManager   Role = "Product Manager"
	RoleTechnicalManager Role = "Technical Manager"
)

var knownRoles = map[Role]struct{}{
	RoleDeveloper:        {},
	RoleBusinessAnalyst:  {},
	RoleQualityAnalyst:   {},
	RoleProductManager:   {},
	RoleTechnicalManager: {},
}

// ParseRole returns the role named by s or ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if _, ok := knownRoles[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Permission names a capability granted by a role.
type Permission string

const (
	PermViewData         Permission = "canViewData"
	PermEditAnyUser      Permission = "canEditAnyUser"
	PermEditAnyBug       Permission = "canEditAnyBug"
	PermEditMyBug        Permission = "canEditMyBug"
	PermEditIfAssignedTo Permission = "canEditIfAssignedTo"
	PermReassignAnyBug   Permission = "canReassignAnyBug"
	PermClassifyAnyBug   Permission = "canClassifyAnyBug"
	PermCloseAnyBug      Permission = "canCloseAnyBug"
	PermAddComments      Permission = "canAddComments"
	PermAddTestCase      Permission = "canAddTestCase"
	PermEditTestCase     Permission = "canEditTestCase"
	PermDeleteTestCase   Permission = "canDeleteTestCase"
	PermExecuteTestCase  Permission = "canExecuteTestCase"
)

var knownPermissions = map[Permission]struct{}{
	PermViewData:         {},
	PermEditAnyUser:      {},
	PermEditAnyBug:       {},
	PermEditMyBug:        {},
	PermEditIfAssignedTo: {},
	PermReassignAnyBug:   {},
	PermClassifyAnyBug:   {},
	PermCloseAnyBug:      {},
	PermAddComments:      {},
	PermAddTestCase:      {},
	PermEditTestCase:     {},
	PermDeleteTestCase:   {},
	PermExecuteTestCase:  {},
}

// Valid reports whether p belongs to the closed permission set.
func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

// RoleSet is an ordered set of role names. In JSON and BSON it also accepts a
// single string, which is how a lone role is usually stored.
type RoleSet []Role

// NewRoleSet trims, drops empties and removes duplicates, keeping first-seen order.
func NewRoleSet(roles ...Role) RoleSet {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	var out RoleSet
	for _, r := range roles {
		r = Role(strings.TrimSpace(string(r)))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Contains reports whether the set holds role.
func (s RoleSet) Contains(role Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// Validate returns ErrUnknownRole for the first name outside the closed set.
func (s RoleSet) Validate() error {
	for _, r := range s {
		if !r.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownRole, string(r))
		}
	}
	return nil
}

// Equal reports whether both sets hold the same roles, ignoring order.
func (s RoleSet) Equal(other RoleSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, r := range s {
		if !other.Contains(r) {
			return false
		}
	}
	return true
}

// Strings returns the role names.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*s = nil
	case string:
		*s = NewRoleSet(Role(v))
	case []any:
		roles := make([]Role, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("role must be a string, got %T", item)
			}
			roles = append(roles, Role(str))
		}
		*s = NewRoleSet(roles...)
	default:
		return fmt.Errorf("role must be a string or an array of strings, got %T", raw)
	}
	return nil
}

func (s *RoleSet) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeNull, bson.TypeUndefined:
		*s = nil
	case bson.TypeString:
		*s = NewRoleSet(Role(raw.StringValue()))
	case bson.TypeArray:
		var names []string
		if err := raw.Unmarshal(&names); err != nil {
			return fmt.Errorf("decode roles: %w", err)
		}
		roles := make([]Role, len(names))
		for i, n := range names {
			roles[i] = Role(n)
		}
		*s = NewRoleSet(roles...)
	default:
		return fmt.Errorf("decode roles: unexpected bson type %s", t)
	}
	return nil
}

// PermissionSet is a flat set of granted permissions. It serializes as
// {"canViewData": true, ...}.
type PermissionSet map[Permission]struct{}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add grants p.
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Sorted returns the granted permissions in name order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	flat := make(map[string]bool, len(s))
	for p := range s {
		flat[string(p)] = true
	}
	return json.Marshal(flat)
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var flat map[string]bool
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*s = grantedFrom(flat)
	return nil
}

// RoleDefinition is one row of the role table.
type RoleDefinition struct {
	Name        Role            `json:"name" bson:"name"`
	Permissions map[string]bool `json:"permissions" bson:"permissions"`
}

// Granted returns the permissions explicitly set to true.
func (d RoleDefinition) Granted() PermissionSet {
	return grantedFrom(d.Permissions)
}

func grantedFrom(flat map[string]bool) PermissionSet {
	set := make(PermissionSet, len(flat))
	for name, on := range flat {
		p := Permission(name)
		if on && p.Valid() {
			set[p] = struct{}{}
		}
	}
	return set
}

func define(name Role, perms ...Permission) RoleDefinition {
	flat := make(map[string]bool, len(perms))
	for _, p := range perms {
		flat[string(p)] = true
	}
	return RoleDefinition{Name: name, Permissions: flat}
}

// BuiltinRoles is the default role table seeded into every store.
var BuiltinRoles = []RoleDefinition{
	define(RoleDeveloper, PermViewData, PermEditMyBug, PermEditIfAssignedTo, PermAddComments),
	define(RoleBusinessAnalyst, PermViewData, PermEditAnyBug, PermClassifyAnyBug, PermReassignAnyBug, PermCloseAnyBug, PermAddComments),
	define(RoleQualityAnalyst, PermViewData, PermEditMyBug, PermAddComments, PermAddTestCase, PermEditTestCase, PermDeleteTestCase, PermExecuteTestCase),
	define(RoleProductManager, PermViewData, PermEditMyBug, PermAddComments),
	define(RoleTechnicalManager, PermViewData, PermEditAnyUser, PermEditAnyBug, PermClassifyAnyBug, PermReassignAnyBug, PermCloseAnyBug, PermAddComments),
}
