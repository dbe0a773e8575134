package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

// pathID decodes a path variable as a document id, writing the 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (primitive.ObjectID, bool) {
	raw := mux.Vars(r)[name]
	id, err := ids.ParseObjectID(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("%s %q is not a valid id", name, raw))
		return primitive.NilObjectID, false
	}
	return id, true
}

func parseUserQuery(values url.Values) (tracker.UserQuery, error) {
	q := tracker.UserQuery{
		Keywords: strings.TrimSpace(values.Get("keywords")),
		SortBy:   strings.TrimSpace(values.Get("sortBy")),
	}
	if raw := strings.TrimSpace(values.Get("role")); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			return q, fmt.Errorf("role %q is not a known role", raw)
		}
		q.Role = role
	}
	var err error
	if q.Age, err = parseAge(values); err != nil {
		return q, err
	}
	if q.Page, err = parsePage(values); err != nil {
		return q, err
	}
	return q, nil
}

func parseBugQuery(values url.Values) (tracker.BugQuery, error) {
	q := tracker.BugQuery{
		Keywords: strings.TrimSpace(values.Get("keywords")),
		SortBy:   strings.TrimSpace(values.Get("sortBy")),
		Closed:   tracker.ClosedFilter(values.Has("open"), values.Has("closed")),
	}
	if raw := strings.TrimSpace(values.Get("classification")); raw != "" {
		class := tracker.Classification(raw)
		if !class.Valid() {
			return q, fmt.Errorf("classification %q is not a known classification", raw)
		}
		q.Classification = class
	}
	var err error
	if q.Age, err = parseAge(values); err != nil {
		return q, err
	}
	if q.Page, err = parsePage(values); err != nil {
		return q, err
	}
	return q, nil
}

func parseAge(values url.Values) (tracker.AgeRange, error) {
	var age tracker.AgeRange
	var err error
	if age.MinAge, err = optionalInt(values, "minAge", 0); err != nil {
		return age, err
	}
	if age.MaxAge, err = optionalInt(values, "maxAge", 0); err != nil {
		return age, err
	}
	return age, nil
}

func parsePage(values url.Values) (tracker.Page, error) {
	page := tracker.Page{Number: 1, Size: tracker.DefaultPageSize}
	n, err := optionalInt(values, "pageNumber", 1)
	if err != nil {
		return page, err
	}
	if n != nil {
		page.Number = *n
	}
	size, err := optionalInt(values, "pageSize", 1)
	if err != nil {
		return page, err
	}
	if size != nil {
		page.Size = *size
	}
	return page.Normalize(), nil
}

// optionalInt returns nil when name is absent or empty.
func optionalInt(values url.Values, name string, min int) (*int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return nil, fmt.Errorf("%s must be an integer >= %d", name, min)
	}
	return &n, nil
}
