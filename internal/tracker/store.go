package tracker

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/auth"
)

// Store is the persistence port shared by the Mongo, Postgres and in-memory backends.
// Every method is a single atomic operation; callers sequence multi-step flows themselves.
type Store interface {
	Users() UserStore
	Bugs() BugStore
	Roles() RoleStore
	Edits() EditStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// UserStore persists user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id primitive.ObjectID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, q UserQuery) ([]UserSummary, error)
	Update(ctx context.Context, id primitive.ObjectID, upd UserUpdate) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// BugStore persists bugs together with their embedded comments and tests.
type BugStore interface {
	Create(ctx context.Context, b *Bug) error
	Get(ctx context.Context, id primitive.ObjectID) (*Bug, error)
	List(ctx context.Context, q BugQuery) ([]BugSummary, error)
	Update(ctx context.Context, id primitive.ObjectID, upd BugUpdate) error
	AddComment(ctx context.Context, bugID primitive.ObjectID, c Comment) error
	AddTest(ctx context.Context, bugID primitive.ObjectID, tc TestCase) error
	UpdateTest(ctx context.Context, bugID, testID primitive.ObjectID, upd TestUpdate) error
	RemoveTest(ctx context.Context, bugID, testID primitive.ObjectID) error
}

// RoleStore is the role/permission table. Seeding is backend specific.
type RoleStore interface {
	auth.RoleSource
}

// EditStore appends audit entries. Edit records are never read back through this port.
type EditStore interface {
	Append(ctx context.Context, rec *EditRecord) error
}

// UserUpdate lists the fields to overwrite; nil fields are left alone.
type UserUpdate struct {
	Password      *string
	GivenName     *string
	FamilyName    *string
	FullName      *string
	Role          *auth.RoleSet
	LastUpdatedOn time.Time
	LastUpdatedBy primitive.ObjectID
}

// Apply writes upd into u.
func (upd UserUpdate) Apply(u *User) {
	if upd.Password != nil {
		u.Password = *upd.Password
	}
	if upd.GivenName != nil {
		u.GivenName = *upd.GivenName
	}
	if upd.FamilyName != nil {
		u.FamilyName = *upd.FamilyName
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Role != nil {
		u.Role = auth.NewRoleSet(*upd.Role...)
	}
	on, by := upd.LastUpdatedOn, upd.LastUpdatedBy
	u.LastUpdatedOn = &on
	u.LastUpdatedBy = &by
}

// BugUpdate lists the bug fields to overwrite; nil fields are left alone.
type BugUpdate struct {
	Title              *string
	Description        *string
	StepsToReproduce   *string
	BugClass           *Classification
	ClassifiedOn       *time.Time
	ClassifiedBy       *primitive.ObjectID
	Closed             *bool
	ClosedOn           *time.Time
	ClosedBy           *primitive.ObjectID
	OpenedOn           *time.Time
	OpenedBy           *primitive.ObjectID
	AssignedToUserID   *primitive.ObjectID
	AssignedToUserName *string
	AssignedOn         *time.Time
	AssignedBy         *primitive.ObjectID
	LastUpdatedOn      time.Time
	LastUpdatedBy      primitive.ObjectID
}

// Apply writes upd into b.
func (upd BugUpdate) Apply(b *Bug) {
	setString(&b.Title, upd.Title)
	setString(&b.Description, upd.Description)
	setString(&b.StepsToReproduce, upd.StepsToReproduce)
	if upd.BugClass != nil {
		b.BugClass = *upd.BugClass
	}
	setTime(&b.ClassifiedOn, upd.ClassifiedOn)
	setRef(&b.ClassifiedBy, upd.ClassifiedBy)
	if upd.Closed != nil {
		b.Closed = *upd.Closed
	}
	setTime(&b.ClosedOn, upd.ClosedOn)
	setRef(&b.ClosedBy, upd.ClosedBy)
	setTime(&b.OpenedOn, upd.OpenedOn)
	setRef(&b.OpenedBy, upd.OpenedBy)
	setRef(&b.AssignedToUserID, upd.AssignedToUserID)
	setString(&b.AssignedToUserName, upd.AssignedToUserName)
	setTime(&b.AssignedOn, upd.AssignedOn)
	setRef(&b.AssignedBy, upd.AssignedBy)
	on, by := upd.LastUpdatedOn, upd.LastUpdatedBy
	b.LastUpdatedOn = &on
	b.LastUpdatedBy = &by
}

// TestUpdate lists the test-case fields to overwrite; nil fields are left alone.
type TestUpdate struct {
	Status        *TestStatus
	ExecutedTest  *string
	ExecutedOn    *time.Time
	ExecutedBy    *primitive.ObjectID
	LastUpdatedOn *time.Time
	LastUpdatedBy *primitive.ObjectID
}

// Apply writes upd into tc.
func (upd TestUpdate) Apply(tc *TestCase) {
	if upd.Status != nil {
		tc.Status = *upd.Status
	}
	setString(&tc.ExecutedTest, upd.ExecutedTest)
	setTime(&tc.ExecutedOn, upd.ExecutedOn)
	setRef(&tc.ExecutedBy, upd.ExecutedBy)
	setTime(&tc.LastUpdatedOn, upd.LastUpdatedOn)
	setRef(&tc.LastUpdatedBy, upd.LastUpdatedBy)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil {
		t := *v
		*dst = &t
	}
}

func setRef(dst **primitive.ObjectID, v *primitive.ObjectID) {
	if v != nil {
		id := *v
		*dst = &id
	}
}
