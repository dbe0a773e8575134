package tracker

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/auth"
)

var (
	ErrNotFound      = errors.New("tracker: not found")
	ErrAlreadyExists = errors.New("tracker: already exists")
)

// Collection names, shared by the stores and by edit records.
const (
	ColUser    = "user"
	ColBug     = "bug"
	ColComment = "comment"
	ColTest    = "test"
	ColRole    = "role"
	ColEdit    = "edit"
)

// User is a registered account. Password holds the bcrypt hash and is never serialized to JSON.
type User struct {
	ID            primitive.ObjectID  `json:"_id" bson:"_id"`
	EmailAddress  string              `json:"emailAddress" bson:"emailAddress"`
	Password      string              `json:"-" bson:"password"`
	GivenName     string              `json:"givenName" bson:"givenName"`
	FamilyName    string              `json:"familyName" bson:"familyName"`
	FullName      string              `json:"fullName" bson:"fullName"`
	Role          auth.RoleSet        `json:"role" bson:"role"`
	CreatedOn     time.Time           `json:"createdOn" bson:"createdOn"`
	CreatedBy     *primitive.ObjectID `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	LastUpdatedOn *time.Time          `json:"lastUpdatedOn,omitempty" bson:"lastUpdatedOn,omitempty"`
	LastUpdatedBy *primitive.ObjectID `json:"lastUpdatedBy,omitempty" bson:"lastUpdatedBy,omitempty"`
}

// Identity is the token-facing view of u.
func (u *User) Identity() auth.Identity {
	return auth.Identity{
		ID:       u.ID.Hex(),
		Email:    u.EmailAddress,
		FullName: u.FullName,
		Roles:    u.Role,
	}
}

// Summary projects u for list responses.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		EmailAddress: u.EmailAddress,
		GivenName:    u.GivenName,
		FamilyName:   u.FamilyName,
		FullName:     u.FullName,
		Role:         u.Role,
		CreatedOn:    u.CreatedOn,
	}
}

// UserSummary is the projected view returned by user listings.
type UserSummary struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id"`
	EmailAddress string             `json:"emailAddress" bson:"emailAddress"`
	GivenName    string             `json:"givenName" bson:"givenName"`
	FamilyName   string             `json:"familyName" bson:"familyName"`
	FullName     string             `json:"fullName" bson:"fullName"`
	Role         auth.RoleSet       `json:"role" bson:"role"`
	CreatedOn    time.Time          `json:"createdOn" bson:"createdOn"`
}

// FullName joins given and family names the way every stored record does.
func FullName(given, family string) string {
	return strings.TrimSpace(given) + " " + strings.TrimSpace(family)
}

// NormalizeEmail lower-cases and trims an address before lookup or insert.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Classification is the triage state of a bug.
type Classification string

const (
	ClassUnclassified Classification = "unclassified"
	ClassApproved     Classification = "approved"
	ClassUnapproved   Classification = "unapproved"
	ClassDuplicate    Classification = "duplicate"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassUnclassified, ClassApproved, ClassUnapproved, ClassDuplicate:
		return true
	}
	return false
}

// Bug is a bug report. It owns its comments and test cases.
type Bug struct {
	ID                 primitive.ObjectID  `json:"_id" bson:"_id"`
	Title              string              `json:"title" bson:"title"`
	Description        string              `json:"description" bson:"description"`
	StepsToReproduce   string              `json:"stepsToReproduce" bson:"stepsToReproduce"`
	BugClass           Classification      `json:"bugClass" bson:"bugClass"`
	ClassifiedOn       *time.Time          `json:"classifiedOn,omitempty" bson:"classifiedOn,omitempty"`
	ClassifiedBy       *primitive.ObjectID `json:"classifiedBy,omitempty" bson:"classifiedBy,omitempty"`
	Closed             bool                `json:"closed" bson:"closed"`
	ClosedOn           *time.Time          `json:"closedOn,omitempty" bson:"closedOn,omitempty"`
	ClosedBy           *primitive.ObjectID `json:"closedBy,omitempty" bson:"closedBy,omitempty"`
	OpenedOn           *time.Time          `json:"openedOn,omitempty" bson:"openedOn,omitempty"`
	OpenedBy           *primitive.ObjectID `json:"openedBy,omitempty" bson:"openedBy,omitempty"`
	AssignedToUserID   *primitive.ObjectID `json:"assignedToUserId,omitempty" bson:"assignedToUserId,omitempty"`
	AssignedToUserName string              `json:"assignedToUserName,omitempty" bson:"assignedToUserName,omitempty"`
	AssignedOn         *time.Time          `json:"assignedOn,omitempty" bson:"assignedOn,omitempty"`
	AssignedBy         *primitive.ObjectID `json:"assignedBy,omitempty" bson:"assignedBy,omitempty"`
	CreatedBy          primitive.ObjectID  `json:"createdBy" bson:"createdBy"`
	CreatedOn          time.Time           `json:"createdOn" bson:"createdOn"`
	LastUpdatedOn      *time.Time          `json:"lastUpdatedOn,omitempty" bson:"lastUpdatedOn,omitempty"`
	LastUpdatedBy      *primitive.ObjectID `json:"lastUpdatedBy,omitempty" bson:"lastUpdatedBy,omitempty"`
	Comments           []Comment           `json:"comments" bson:"comments"`
	Tests              []TestCase          `json:"tests" bson:"tests"`
}

// Summary projects b for list responses.
func (b *Bug) Summary() BugSummary {
	return BugSummary{
		ID:                 b.ID,
		Title:              b.Title,
		Description:        b.Description,
		BugClass:           b.BugClass,
		Closed:             b.Closed,
		AssignedToUserID:   b.AssignedToUserID,
		AssignedToUserName: b.AssignedToUserName,
		CreatedBy:          b.CreatedBy,
		CreatedOn:          b.CreatedOn,
	}
}

// Comment returns the comment with id, if present.
func (b *Bug) Comment(id primitive.ObjectID) (*Comment, bool) {
	for i := range b.Comments {
		if b.Comments[i].ID == id {
			return &b.Comments[i], true
		}
	}
	return nil, false
}

// Test returns the test case with id, if present.
func (b *Bug) Test(id primitive.ObjectID) (*TestCase, bool) {
	for i := range b.Tests {
		if b.Tests[i].ID == id {
			return &b.Tests[i], true
		}
	}
	return nil, false
}

// BugSummary is the projected view returned by bug listings.
type BugSummary struct {
	ID                 primitive.ObjectID  `json:"_id" bson:"_id"`
	Title              string              `json:"title" bson:"title"`
	Description        string              `json:"description" bson:"description"`
	BugClass           Classification      `json:"bugClass" bson:"bugClass"`
	Closed             bool                `json:"closed" bson:"closed"`
	AssignedToUserID   *primitive.ObjectID `json:"assignedToUserId,omitempty" bson:"assignedToUserId,omitempty"`
	AssignedToUserName string              `json:"assignedToUserName,omitempty" bson:"assignedToUserName,omitempty"`
	CreatedBy          primitive.ObjectID  `json:"createdBy" bson:"createdBy"`
	CreatedOn          time.Time           `json:"createdOn" bson:"createdOn"`
}

// Comment is a note appended to a bug.
type Comment struct {
	ID         primitive.ObjectID `json:"_id" bson:"_id"`
	Text       string             `json:"text" bson:"text"`
	Author     primitive.ObjectID `json:"author" bson:"author"`
	AuthorName string             `json:"authorName" bson:"authorName"`
	CreatedOn  time.Time          `json:"createdOn" bson:"createdOn"`
}

// TestStatus is the normalized pass/fail state of a test case.
type TestStatus string

const (
	StatusPass TestStatus = "pass"
	StatusFail TestStatus = "fail"
)

// StatusFromFlag maps the wire flag (1 passed, 0 failed) to a status.
func StatusFromFlag(passed bool) TestStatus {
	if passed {
		return StatusPass
	}
	return StatusFail
}

// Outcomes recorded by test execution.
const (
	ExecutePassed = "execute passed"
	ExecuteFailed = "execute failed"
)

// TestCase is a verification step attached to a bug.
type TestCase struct {
	ID             primitive.ObjectID  `json:"_id" bson:"_id"`
	Status         TestStatus          `json:"status" bson:"status"`
	CreatedBy      primitive.ObjectID  `json:"createdBy" bson:"createdBy"`
	TestCaseAuthor string              `json:"testCaseAuthor,omitempty" bson:"testCaseAuthor,omitempty"`
	CreatedOn      time.Time           `json:"createdOn" bson:"createdOn"`
	LastUpdatedOn  *time.Time          `json:"lastUpdatedOn,omitempty" bson:"lastUpdatedOn,omitempty"`
	LastUpdatedBy  *primitive.ObjectID `json:"lastUpdatedBy,omitempty" bson:"lastUpdatedBy,omitempty"`
	ExecutedTest   string              `json:"executedTest,omitempty" bson:"executedTest,omitempty"`
	ExecutedOn     *time.Time          `json:"executedOn,omitempty" bson:"executedOn,omitempty"`
	ExecutedBy     *primitive.ObjectID `json:"executedBy,omitempty" bson:"executedBy,omitempty"`
}

// Op is the kind of mutation an edit record describes.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpExecute Op = "execute"
)

// EditRecord is one append-only audit entry.
type EditRecord struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
	Op        Op                 `json:"op" bson:"op"`
	Col       string             `json:"col" bson:"col"`
	Target    map[string]any     `json:"target" bson:"target"`
	Update    map[string]any     `json:"update,omitempty" bson:"update,omitempty"`
	Auth      map[string]any     `json:"auth" bson:"auth"`
}
