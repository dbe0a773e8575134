package tracker

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/auth"
)

// InMemory implements Store in process memory. It backs tests and the "memory" store mode.
type InMemory struct {
	mu     sync.RWMutex
	users  map[primitive.ObjectID]*User
	emails map[string]primitive.ObjectID
	bugs   map[primitive.ObjectID]*Bug
	roles  map[auth.Role]auth.RoleDefinition
	edits  []EditRecord
	now    func() time.Time
}

// NewInMemory creates an empty store seeded with roles.
func NewInMemory(roles ...auth.RoleDefinition) *InMemory {
	s := &InMemory{
		users:  make(map[primitive.ObjectID]*User),
		emails: make(map[string]primitive.ObjectID),
		bugs:   make(map[primitive.ObjectID]*Bug),
		roles:  make(map[auth.Role]auth.RoleDefinition),
		now:    time.Now,
	}
	for _, def := range roles {
		s.roles[def.Name] = copyRole(def)
	}
	return s
}

// SetClock overrides the time source used by age filters.
func (s *InMemory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemory) Users() UserStore { return memUsers{s} }
func (s *InMemory) Bugs() BugStore   { return memBugs{s} }
func (s *InMemory) Roles() RoleStore { return memRoles{s} }
func (s *InMemory) Edits() EditStore { return memEdits{s} }

func (s *InMemory) Ping(context.Context) error  { return nil }
func (s *InMemory) Close(context.Context) error { return nil }

// EditRecords returns a copy of every appended edit record, oldest first.
func (s *InMemory) EditRecords() []EditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EditRecord, len(s.edits))
	copy(out, s.edits)
	return out
}

type memUsers struct{ s *InMemory }

func (m memUsers) Create(_ context.Context, u *User) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(u.EmailAddress)
	if _, ok := s.emails[email]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	cp := copyUser(u)
	cp.EmailAddress = email
	s.users[u.ID] = cp
	s.emails[email] = u.ID
	return nil
}

func (m memUsers) Get(_ context.Context, id primitive.ObjectID) (*User, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (m memUsers) List(_ context.Context, q UserQuery) ([]UserSummary, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	terms := Keywords(q.Keywords)

	var matched []*User
	for _, u := range s.users {
		if q.Role != "" && !u.Role.Contains(q.Role) {
			continue
		}
		if !q.Age.Contains(u.CreatedOn, now) {
			continue
		}
		if !matchesAny(terms, u.EmailAddress, u.GivenName, u.FamilyName, u.FullName) {
			continue
		}
		matched = append(matched, u)
	}

	order := q.Sort()
	sort.SliceStable(matched, func(i, j int) bool {
		return compareBy(order, func(f string) any { return userValue(matched[i], f) },
			func(f string) any { return userValue(matched[j], f) }) < 0
	})

	var out []UserSummary
	for _, u := range paginate(matched, q.Page) {
		out = append(out, u.Summary())
	}
	return out, nil
}

func (m memUsers) Update(_ context.Context, id primitive.ObjectID, upd UserUpdate) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	upd.Apply(u)
	return nil
}

func (m memUsers) Delete(_ context.Context, id primitive.ObjectID) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.emails, u.EmailAddress)
	delete(s.users, id)
	return nil
}

type memBugs struct{ s *InMemory }

func (m memBugs) Create(_ context.Context, b *Bug) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bugs[b.ID]; ok {
		return ErrAlreadyExists
	}
	s.bugs[b.ID] = copyBug(b)
	return nil
}

func (m memBugs) Get(_ context.Context, id primitive.ObjectID) (*Bug, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bugs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBug(b), nil
}

func (m memBugs) List(_ context.Context, q BugQuery) ([]BugSummary, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	terms := Keywords(q.Keywords)

	var matched []*Bug
	for _, b := range s.bugs {
		if q.Classification != "" && b.BugClass != q.Classification {
			continue
		}
		if q.Closed != nil && b.Closed != *q.Closed {
			continue
		}
		if !q.Age.Contains(b.CreatedOn, now) {
			continue
		}
		if !matchesAny(terms, b.Title, b.Description, b.StepsToReproduce) {
			continue
		}
		matched = append(matched, b)
	}

	order := q.Sort()
	sort.SliceStable(matched, func(i, j int) bool {
		return compareBy(order, func(f string) any { return bugValue(matched[i], f) },
			func(f string) any { return bugValue(matched[j], f) }) < 0
	})

	var out []BugSummary
	for _, b := range paginate(matched, q.Page) {
		out = append(out, b.Summary())
	}
	return out, nil
}

func (m memBugs) Update(_ context.Context, id primitive.ObjectID, upd BugUpdate) error {
	return m.mutate(id, func(b *Bug) error {
		upd.Apply(b)
		return nil
	})
}

func (m memBugs) AddComment(_ context.Context, bugID primitive.ObjectID, c Comment) error {
	return m.mutate(bugID, func(b *Bug) error {
		b.Comments = append(b.Comments, c)
		return nil
	})
}

func (m memBugs) AddTest(_ context.Context, bugID primitive.ObjectID, tc TestCase) error {
	return m.mutate(bugID, func(b *Bug) error {
		b.Tests = append(b.Tests, tc)
		return nil
	})
}

func (m memBugs) UpdateTest(_ context.Context, bugID, testID primitive.ObjectID, upd TestUpdate) error {
	return m.mutate(bugID, func(b *Bug) error {
		tc, ok := b.Test(testID)
		if !ok {
			return ErrNotFound
		}
		upd.Apply(tc)
		return nil
	})
}

func (m memBugs) RemoveTest(_ context.Context, bugID, testID primitive.ObjectID) error {
	return m.mutate(bugID, func(b *Bug) error {
		for i := range b.Tests {
			if b.Tests[i].ID == testID {
				b.Tests = append(b.Tests[:i], b.Tests[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m memBugs) mutate(id primitive.ObjectID, fn func(*Bug) error) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bugs[id]
	if !ok {
		return ErrNotFound
	}
	return fn(b)
}

type memRoles struct{ s *InMemory }

func (m memRoles) FindRoles(_ context.Context, names []auth.Role) ([]auth.RoleDefinition, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.RoleDefinition
	for _, name := range auth.NewRoleSet(names...) {
		if def, ok := s.roles[name]; ok {
			out = append(out, copyRole(def))
		}
	}
	return out, nil
}

type memEdits struct{ s *InMemory }

func (m memEdits) Append(_ context.Context, rec *EditRecord) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, *rec)
	return nil
}

func matchesAny(terms []string, fields ...string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, f := range fields {
		f = strings.ToLower(f)
		for _, t := range terms {
			if strings.Contains(f, t) {
				return true
			}
		}
	}
	return false
}

func paginate[T any](items []T, p Page) []T {
	p = p.Normalize()
	start := p.Skip()
	if start >= len(items) {
		return nil
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func compareBy(order []SortField, a, b func(string) any) int {
	for _, f := range order {
		c := compareValues(a(f.Field), b(f.Field))
		if f.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case primitive.ObjectID:
		y := b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	}
	return 0
}

func userValue(u *User, field string) any {
	switch field {
	case FieldID:
		return u.ID
	case FieldEmailAddress:
		return u.EmailAddress
	case FieldGivenName:
		return u.GivenName
	case FieldFamilyName:
		return u.FamilyName
	case FieldFullName:
		return u.FullName
	case FieldRole:
		return strings.Join(u.Role.Strings(), ",")
	case FieldCreatedOn:
		return u.CreatedOn
	}
	return ""
}

func bugValue(b *Bug, field string) any {
	switch field {
	case FieldID:
		return b.ID
	case FieldTitle:
		return b.Title
	case FieldDescription:
		return b.Description
	case FieldBugClass:
		return string(b.BugClass)
	case FieldClosed:
		return b.Closed
	case FieldAssignedToUserName:
		return b.AssignedToUserName
	case FieldCreatedBy:
		return b.CreatedBy
	case FieldCreatedOn:
		return b.CreatedOn
	}
	return ""
}

func copyUser(u *User) *User {
	cp := *u
	cp.Role = append(auth.RoleSet(nil), u.Role...)
	return &cp
}

func copyBug(b *Bug) *Bug {
	cp := *b
	cp.Comments = append([]Comment{}, b.Comments...)
	cp.Tests = append([]TestCase{}, b.Tests...)
	return &cp
}

func copyRole(def auth.RoleDefinition) auth.RoleDefinition {
	perms := make(map[string]bool, len(def.Permissions))
	for k, v := range def.Permissions {
		perms[k] = v
	}
	return auth.RoleDefinition{Name: def.Name, Permissions: perms}
}
