package pg

import (
	"fmt"
	"strings"
	"time"

	"bugtracker.org/internal/tracker"
)

var userColumns = map[string]string{
	tracker.FieldID:           "id",
	tracker.FieldEmailAddress: "email_address",
	tracker.FieldGivenName:    "given_name",
	tracker.FieldFamilyName:   "family_name",
	tracker.FieldFullName:     "full_name",
	tracker.FieldRole:         "roles",
	tracker.FieldCreatedOn:    "created_on",
}

var bugColumns = map[string]string{
	tracker.FieldID:                 "id",
	tracker.FieldTitle:              "title",
	tracker.FieldDescription:        "description",
	tracker.FieldStepsToReproduce:   "steps_to_reproduce",
	tracker.FieldBugClass:           "bug_class",
	tracker.FieldClosed:             "closed",
	tracker.FieldAssignedToUserName: "assigned_to_user_name",
	tracker.FieldCreatedBy:          "created_by",
	tracker.FieldCreatedOn:          "created_on",
}

func columnsFor(fields []string, names map[string]string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = names[f]
	}
	return out
}

// where accumulates predicates and their positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

// keywords matches any term anywhere in any of cols, ignoring case.
func (w *where) keywords(terms, cols []string) {
	if len(terms) == 0 {
		return
	}
	var or []string
	for _, term := range terms {
		p := w.arg("%" + escapeLike(term) + "%")
		for _, c := range cols {
			or = append(or, c+" ilike "+p)
		}
	}
	w.add("(" + strings.Join(or, " or ") + ")")
}

func (w *where) age(r tracker.AgeRange, now time.Time) {
	from, before := r.Bounds(now)
	if from != nil {
		w.add("created_on >= " + w.arg(*from))
	}
	if before != nil {
		w.add("created_on < " + w.arg(*before))
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(w.clauses, " and ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderBy(order []tracker.SortField, names map[string]string) string {
	parts := make([]string, 0, len(order))
	for _, f := range order {
		dir := "asc"
		if f.Desc {
			dir = "desc"
		}
		parts = append(parts, names[f.Field]+" "+dir)
	}
	return " order by " + strings.Join(parts, ", ")
}

func userListQuery(q tracker.UserQuery, now time.Time) (string, []any) {
	var w where
	w.keywords(tracker.Keywords(q.Keywords), columnsFor(tracker.UserKeywordFields, userColumns))
	if q.Role != "" {
		w.add("roles @> jsonb_build_array(" + w.arg(string(q.Role)) + "::text)")
	}
	w.age(q.Age, now)

	page := q.Page.Normalize()
	query := "select " + userSummaryColumns + " from users" + w.String() + orderBy(q.Sort(), userColumns)
	limit := w.arg(page.Size)
	offset := w.arg(page.Skip())
	return query + " limit " + limit + " offset " + offset, w.args
}

func bugListQuery(q tracker.BugQuery, now time.Time) (string, []any) {
	var w where
	w.keywords(tracker.Keywords(q.Keywords), columnsFor(tracker.BugKeywordFields, bugColumns))
	if q.Classification != "" {
		w.add("bug_class = " + w.arg(string(q.Classification)))
	}
	if q.Closed != nil {
		w.add("closed = " + w.arg(*q.Closed))
	}
	w.age(q.Age, now)

	page := q.Page.Normalize()
	query := "select " + bugSummaryColumns + " from bugs" + w.String() + orderBy(q.Sort(), bugColumns)
	limit := w.arg(page.Size)
	offset := w.arg(page.Skip())
	return query + " limit " + limit + " offset " + offset, w.args
}

// assignments builds a SET list; the row key is appended last by the caller.
type assignments struct {
	cols []string
	args []any
}

func (a *assignments) set(col string, v any) {
	a.args = append(a.args, v)
	a.cols = append(a.cols, fmt.Sprintf("%s = $%d", col, len(a.args)))
}

func (a *assignments) update(table string, id string) (string, []any) {
	args := append(a.args, id)
	return fmt.Sprintf("update %s set %s where id = $%d", table, strings.Join(a.cols, ", "), len(args)), args
}
