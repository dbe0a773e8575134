package tracker

import (
	"strings"
	"time"

	"bugtracker.org/internal/auth"
)

const (
	DefaultPageSize = 5
	MaxPageSize     = 100
)

// Page selects one slice of an ordered listing. Numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize applies the defaults and bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Skip is the number of records before the page.
func (p Page) Skip() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// AgeRange filters on creation time in whole days before today.
type AgeRange struct {
	MinAge *int
	MaxAge *int
}

// Bounds converts the range into [from, before) on createdOn, relative to the UTC day containing now.
// A nil bound means unbounded on that side.
func (r AgeRange) Bounds(now time.Time) (from, before *time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	if r.MaxAge != nil {
		t := today.AddDate(0, 0, -*r.MaxAge)
		from = &t
	}
	if r.MinAge != nil {
		t := today.AddDate(0, 0, -*r.MinAge+1)
		before = &t
	}
	return from, before
}

// Contains reports whether createdOn falls inside the window.
func (r AgeRange) Contains(createdOn, now time.Time) bool {
	from, before := r.Bounds(now)
	if from != nil && createdOn.Before(*from) {
		return false
	}
	if before != nil && !createdOn.Before(*before) {
		return false
	}
	return true
}

// SortField is one key of a multi-key ordering. Field is the document field name.
type SortField struct {
	Field string
	Desc  bool
}

// Document field names used by filters and orderings.
const (
	FieldID                 = "_id"
	FieldEmailAddress       = "emailAddress"
	FieldGivenName          = "givenName"
	FieldFamilyName         = "familyName"
	FieldFullName           = "fullName"
	FieldRole               = "role"
	FieldCreatedOn          = "createdOn"
	FieldTitle              = "title"
	FieldDescription        = "description"
	FieldStepsToReproduce   = "stepsToReproduce"
	FieldBugClass           = "bugClass"
	FieldClosed             = "closed"
	FieldAssignedToUserName = "assignedToUserName"
	FieldCreatedBy          = "createdBy"
)

var (
	asc  = func(f string) SortField { return SortField{Field: f} }
	desc = func(f string) SortField { return SortField{Field: f, Desc: true} }

	newest = []SortField{desc(FieldCreatedOn), desc(FieldID)}
	oldest = []SortField{asc(FieldCreatedOn), asc(FieldID)}

	userSorts = map[string][]SortField{
		"givenName":  {asc(FieldGivenName), asc(FieldFamilyName), asc(FieldCreatedOn), asc(FieldID)},
		"familyName": {asc(FieldFamilyName), asc(FieldGivenName), asc(FieldCreatedOn), asc(FieldID)},
		"role":       {asc(FieldRole), asc(FieldGivenName), asc(FieldFamilyName), asc(FieldCreatedOn), asc(FieldID)},
		"newest":     newest,
		"oldest":     oldest,
	}

	bugSorts = map[string][]SortField{
		"newest":         newest,
		"oldest":         oldest,
		"title":          {asc(FieldTitle), asc(FieldCreatedOn), asc(FieldID)},
		"classification": {asc(FieldBugClass), desc(FieldCreatedOn), desc(FieldID)},
		"assignedTo":     {asc(FieldAssignedToUserName), desc(FieldCreatedOn), desc(FieldID)},
		"createdBy":      {asc(FieldCreatedBy), desc(FieldCreatedOn), desc(FieldID)},
	}
)

// UserKeywordFields are matched by the keywords filter on users.
var UserKeywordFields = []string{FieldEmailAddress, FieldGivenName, FieldFamilyName, FieldFullName}

// BugKeywordFields are matched by the keywords filter on bugs.
var BugKeywordFields = []string{FieldTitle, FieldDescription, FieldStepsToReproduce}

// UserQuery filters, orders and pages the user listing.
type UserQuery struct {
	Keywords string
	Role     auth.Role
	Age      AgeRange
	SortBy   string
	Page     Page
}

// Sort resolves SortBy; unknown names use givenName order.
func (q UserQuery) Sort() []SortField {
	if s, ok := userSorts[q.SortBy]; ok {
		return s
	}
	return userSorts["givenName"]
}

// BugQuery filters, orders and pages the bug listing.
type BugQuery struct {
	Keywords       string
	Classification Classification
	Closed         *bool
	Age            AgeRange
	SortBy         string
	Page           Page
}

// Sort resolves SortBy; unknown names use newest first.
func (q BugQuery) Sort() []SortField {
	if s, ok := bugSorts[q.SortBy]; ok {
		return s
	}
	return newest
}

// ClosedFilter turns the open/closed presence flags into a filter. Exactly one flag
// selects that state; neither or both apply no filter.
func ClosedFilter(open, closed bool) *bool {
	if open == closed {
		return nil
	}
	return &closed
}

// Keywords splits a free-text filter into lower-cased terms.
func Keywords(raw string) []string {
	return strings.Fields(strings.ToLower(raw))
}
