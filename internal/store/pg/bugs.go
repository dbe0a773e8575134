package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/tracker"
)

const (
	bugAllColumns = `id, title, description, steps_to_reproduce, bug_class, classified_on, classified_by,
		closed, closed_on, closed_by, opened_on, opened_by, assigned_to_user_id, assigned_to_user_name,
		assigned_on, assigned_by, created_by, created_on, last_updated_on, last_updated_by, comments, tests`
	bugSummaryColumns = `id, title, description, bug_class, closed, assigned_to_user_id, assigned_to_user_name, created_by, created_on`
)

type bugs struct{ s *Store }

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b bugs) Create(ctx context.Context, bug *tracker.Bug) error {
	comments := bug.Comments
	if comments == nil {
		comments = []tracker.Comment{}
	}
	tests := bug.Tests
	if tests == nil {
		tests = []tracker.TestCase{}
	}
	commentsJSON, err := encodeJSON(comments)
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}
	testsJSON, err := encodeJSON(tests)
	if err != nil {
		return fmt.Errorf("encode tests: %w", err)
	}
	class := bug.BugClass
	if class == "" {
		class = tracker.ClassUnclassified
	}

	_, err = b.s.db.ExecContext(ctx, `
		insert into bugs (`+bugAllColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, bug.ID.Hex(), bug.Title, bug.Description, bug.StepsToReproduce, string(class),
		nullTime(bug.ClassifiedOn), nullRef(bug.ClassifiedBy),
		bug.Closed, nullTime(bug.ClosedOn), nullRef(bug.ClosedBy),
		nullTime(bug.OpenedOn), nullRef(bug.OpenedBy),
		nullRef(bug.AssignedToUserID), bug.AssignedToUserName, nullTime(bug.AssignedOn), nullRef(bug.AssignedBy),
		bug.CreatedBy.Hex(), bug.CreatedOn.UTC(),
		nullTime(bug.LastUpdatedOn), nullRef(bug.LastUpdatedBy),
		commentsJSON, testsJSON)
	return translate(err)
}

func (b bugs) Get(ctx context.Context, id primitive.ObjectID) (*tracker.Bug, error) {
	row := b.s.db.QueryRowContext(ctx, `select `+bugAllColumns+` from bugs where id = $1`, id.Hex())
	return scanBug(row)
}

func scanBug(row scanner) (*tracker.Bug, error) {
	var (
		bug                                                                 tracker.Bug
		id, class, createdBy                                                string
		classifiedBy, closedBy, openedBy, assignedTo, assignedBy, updatedBy sql.NullString
		classifiedOn, closedOn, openedOn, assignedOn, updatedOn             sql.NullTime
		comments, tests                                                     []byte
	)
	err := row.Scan(&id, &bug.Title, &bug.Description, &bug.StepsToReproduce, &class,
		&classifiedOn, &classifiedBy,
		&bug.Closed, &closedOn, &closedBy,
		&openedOn, &openedBy,
		&assignedTo, &bug.AssignedToUserName, &assignedOn, &assignedBy,
		&createdBy, &bug.CreatedOn, &updatedOn, &updatedBy,
		&comments, &tests)
	if err != nil {
		return nil, translate(err)
	}

	var d decoder
	bug.ID = d.id(id)
	bug.CreatedBy = d.id(createdBy)
	bug.ClassifiedBy = d.ref(classifiedBy)
	bug.ClosedBy = d.ref(closedBy)
	bug.OpenedBy = d.ref(openedBy)
	bug.AssignedToUserID = d.ref(assignedTo)
	bug.AssignedBy = d.ref(assignedBy)
	bug.LastUpdatedBy = d.ref(updatedBy)
	if d.err != nil {
		return nil, d.err
	}
	bug.BugClass = tracker.Classification(class)
	bug.CreatedOn = bug.CreatedOn.UTC()
	bug.ClassifiedOn = timePtr(classifiedOn)
	bug.ClosedOn = timePtr(closedOn)
	bug.OpenedOn = timePtr(openedOn)
	bug.AssignedOn = timePtr(assignedOn)
	bug.LastUpdatedOn = timePtr(updatedOn)

	bug.Comments = []tracker.Comment{}
	if len(comments) > 0 {
		if err := json.Unmarshal(comments, &bug.Comments); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
	}
	bug.Tests = []tracker.TestCase{}
	if len(tests) > 0 {
		if err := json.Unmarshal(tests, &bug.Tests); err != nil {
			return nil, fmt.Errorf("decode tests: %w", err)
		}
	}
	return &bug, nil
}

func (b bugs) List(ctx context.Context, q tracker.BugQuery) ([]tracker.BugSummary, error) {
	query, args := bugListQuery(q, b.s.now())
	rows, err := b.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	var out []tracker.BugSummary
	for rows.Next() {
		var (
			sum                  tracker.BugSummary
			id, class, createdBy string
			assignedTo           sql.NullString
		)
		if err := rows.Scan(&id, &sum.Title, &sum.Description, &class, &sum.Closed,
			&assignedTo, &sum.AssignedToUserName, &createdBy, &sum.CreatedOn); err != nil {
			return nil, err
		}
		var d decoder
		sum.ID = d.id(id)
		sum.CreatedBy = d.id(createdBy)
		sum.AssignedToUserID = d.ref(assignedTo)
		if d.err != nil {
			return nil, d.err
		}
		sum.BugClass = tracker.Classification(class)
		sum.CreatedOn = sum.CreatedOn.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (b bugs) Update(ctx context.Context, id primitive.ObjectID, upd tracker.BugUpdate) error {
	var a assignments
	if upd.Title != nil {
		a.set("title", *upd.Title)
	}
	if upd.Description != nil {
		a.set("description", *upd.Description)
	}
	if upd.StepsToReproduce != nil {
		a.set("steps_to_reproduce", *upd.StepsToReproduce)
	}
	if upd.BugClass != nil {
		a.set("bug_class", string(*upd.BugClass))
	}
	if upd.ClassifiedOn != nil {
		a.set("classified_on", upd.ClassifiedOn.UTC())
	}
	if upd.ClassifiedBy != nil {
		a.set("classified_by", upd.ClassifiedBy.Hex())
	}
	if upd.Closed != nil {
		a.set("closed", *upd.Closed)
	}
	if upd.ClosedOn != nil {
		a.set("closed_on", upd.ClosedOn.UTC())
	}
	if upd.ClosedBy != nil {
		a.set("closed_by", upd.ClosedBy.Hex())
	}
	if upd.OpenedOn != nil {
		a.set("opened_on", upd.OpenedOn.UTC())
	}
	if upd.OpenedBy != nil {
		a.set("opened_by", upd.OpenedBy.Hex())
	}
	if upd.AssignedToUserID != nil {
		a.set("assigned_to_user_id", upd.AssignedToUserID.Hex())
	}
	if upd.AssignedToUserName != nil {
		a.set("assigned_to_user_name", *upd.AssignedToUserName)
	}
	if upd.AssignedOn != nil {
		a.set("assigned_on", upd.AssignedOn.UTC())
	}
	if upd.AssignedBy != nil {
		a.set("assigned_by", upd.AssignedBy.Hex())
	}
	a.set("last_updated_on", upd.LastUpdatedOn.UTC())
	a.set("last_updated_by", upd.LastUpdatedBy.Hex())

	query, args := a.update("bugs", id.Hex())
	res, err := b.s.db.ExecContext(ctx, query, args...)
	return affectedOrNotFound(res, err)
}

func (b bugs) AddComment(ctx context.Context, bugID primitive.ObjectID, c tracker.Comment) error {
	doc, err := encodeJSON(c)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	res, err := b.s.db.ExecContext(ctx,
		`update bugs set comments = comments || jsonb_build_array($2::jsonb) where id = $1`,
		bugID.Hex(), doc)
	return affectedOrNotFound(res, err)
}

func (b bugs) AddTest(ctx context.Context, bugID primitive.ObjectID, tc tracker.TestCase) error {
	doc, err := encodeJSON(tc)
	if err != nil {
		return fmt.Errorf("encode test: %w", err)
	}
	res, err := b.s.db.ExecContext(ctx,
		`update bugs set tests = tests || jsonb_build_array($2::jsonb) where id = $1`,
		bugID.Hex(), doc)
	return affectedOrNotFound(res, err)
}

// testPatch is merged into the matching array element with the jsonb || operator.
func testPatch(upd tracker.TestUpdate) map[string]any {
	patch := map[string]any{}
	if upd.Status != nil {
		patch["status"] = string(*upd.Status)
	}
	if upd.ExecutedTest != nil {
		patch["executedTest"] = *upd.ExecutedTest
	}
	if upd.ExecutedOn != nil {
		patch["executedOn"] = upd.ExecutedOn.UTC()
	}
	if upd.ExecutedBy != nil {
		patch["executedBy"] = upd.ExecutedBy.Hex()
	}
	if upd.LastUpdatedOn != nil {
		patch["lastUpdatedOn"] = upd.LastUpdatedOn.UTC()
	}
	if upd.LastUpdatedBy != nil {
		patch["lastUpdatedBy"] = upd.LastUpdatedBy.Hex()
	}
	return patch
}

func (b bugs) UpdateTest(ctx context.Context, bugID, testID primitive.ObjectID, upd tracker.TestUpdate) error {
	patch, err := encodeJSON(testPatch(upd))
	if err != nil {
		return fmt.Errorf("encode test update: %w", err)
	}
	res, err := b.s.db.ExecContext(ctx, `
		update bugs set tests = (
			select coalesce(jsonb_agg(case when t->>'_id' = $2 then t || $3::jsonb else t end order by ord), '[]'::jsonb)
			from jsonb_array_elements(tests) with ordinality as e(t, ord)
		)
		where id = $1 and tests @> jsonb_build_array(jsonb_build_object('_id', $2::text))
	`, bugID.Hex(), testID.Hex(), patch)
	return affectedOrNotFound(res, err)
}

func (b bugs) RemoveTest(ctx context.Context, bugID, testID primitive.ObjectID) error {
	res, err := b.s.db.ExecContext(ctx, `
		update bugs set tests = (
			select coalesce(jsonb_agg(t order by ord), '[]'::jsonb)
			from jsonb_array_elements(tests) with ordinality as e(t, ord)
			where t->>'_id' <> $2
		)
		where id = $1 and tests @> jsonb_build_array(jsonb_build_object('_id', $2::text))
	`, bugID.Hex(), testID.Hex())
	return affectedOrNotFound(res, err)
}
