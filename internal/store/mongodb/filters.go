package mongodb

import (
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bugtracker.org/internal/tracker"
)

var userProjection = bson.M{
	tracker.FieldID:           1,
	tracker.FieldEmailAddress: 1,
	tracker.FieldGivenName:    1,
	tracker.FieldFamilyName:   1,
	tracker.FieldFullName:     1,
	tracker.FieldRole:         1,
	tracker.FieldCreatedOn:    1,
}

var bugProjection = bson.M{
	tracker.FieldID:                 1,
	tracker.FieldTitle:              1,
	tracker.FieldDescription:        1,
	tracker.FieldBugClass:           1,
	tracker.FieldClosed:             1,
	"assignedToUserId":              1,
	tracker.FieldAssignedToUserName: 1,
	tracker.FieldCreatedBy:          1,
	tracker.FieldCreatedOn:          1,
}

func userFilter(q tracker.UserQuery, now time.Time) bson.D {
	var filter bson.D
	if kw := keywordFilter(tracker.Keywords(q.Keywords), tracker.UserKeywordFields); kw != nil {
		filter = append(filter, bson.E{Key: "$or", Value: kw})
	}
	if q.Role != "" {
		filter = append(filter, bson.E{Key: tracker.FieldRole, Value: string(q.Role)})
	}
	if age := ageFilter(q.Age, now); age != nil {
		filter = append(filter, bson.E{Key: tracker.FieldCreatedOn, Value: age})
	}
	if filter == nil {
		return bson.D{}
	}
	return filter
}

func bugFilter(q tracker.BugQuery, now time.Time) bson.D {
	var filter bson.D
	if kw := keywordFilter(tracker.Keywords(q.Keywords), tracker.BugKeywordFields); kw != nil {
		filter = append(filter, bson.E{Key: "$or", Value: kw})
	}
	if q.Classification != "" {
		filter = append(filter, bson.E{Key: tracker.FieldBugClass, Value: string(q.Classification)})
	}
	if q.Closed != nil {
		filter = append(filter, bson.E{Key: tracker.FieldClosed, Value: *q.Closed})
	}
	if age := ageFilter(q.Age, now); age != nil {
		filter = append(filter, bson.E{Key: tracker.FieldCreatedOn, Value: age})
	}
	if filter == nil {
		return bson.D{}
	}
	return filter
}

// keywordFilter matches any term, case-insensitively, anywhere in any of fields.
func keywordFilter(terms, fields []string) bson.A {
	if len(terms) == 0 {
		return nil
	}
	var or bson.A
	for _, field := range fields {
		for _, term := range terms {
			or = append(or, bson.M{field: primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}})
		}
	}
	return or
}

func ageFilter(r tracker.AgeRange, now time.Time) bson.M {
	from, before := r.Bounds(now)
	if from == nil && before == nil {
		return nil
	}
	cond := bson.M{}
	if from != nil {
		cond["$gte"] = *from
	}
	if before != nil {
		cond["$lt"] = *before
	}
	return cond
}

func sortDoc(order []tracker.SortField) bson.D {
	doc := make(bson.D, 0, len(order))
	for _, f := range order {
		dir := 1
		if f.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Field, Value: dir})
	}
	return doc
}

func findOptions(order []tracker.SortField, page tracker.Page) *options.FindOptions {
	page = page.Normalize()
	return options.Find().
		SetSort(sortDoc(order)).
		SetSkip(int64(page.Skip())).
		SetLimit(int64(page.Size))
}

func userSet(upd tracker.UserUpdate) bson.M {
	set := bson.M{
		"lastUpdatedOn": upd.LastUpdatedOn,
		"lastUpdatedBy": upd.LastUpdatedBy,
	}
	if upd.Password != nil {
		set["password"] = *upd.Password
	}
	if upd.GivenName != nil {
		set[tracker.FieldGivenName] = *upd.GivenName
	}
	if upd.FamilyName != nil {
		set[tracker.FieldFamilyName] = *upd.FamilyName
	}
	if upd.FullName != nil {
		set[tracker.FieldFullName] = *upd.FullName
	}
	if upd.Role != nil {
		set[tracker.FieldRole] = upd.Role.Strings()
	}
	return set
}

func bugSet(upd tracker.BugUpdate) bson.M {
	set := bson.M{
		"lastUpdatedOn": upd.LastUpdatedOn,
		"lastUpdatedBy": upd.LastUpdatedBy,
	}
	put := func(key string, ok bool, v any) {
		if ok {
			set[key] = v
		}
	}
	if upd.Title != nil {
		set[tracker.FieldTitle] = *upd.Title
	}
	if upd.Description != nil {
		set[tracker.FieldDescription] = *upd.Description
	}
	if upd.StepsToReproduce != nil {
		set[tracker.FieldStepsToReproduce] = *upd.StepsToReproduce
	}
	if upd.BugClass != nil {
		set[tracker.FieldBugClass] = string(*upd.BugClass)
	}
	if upd.Closed != nil {
		set[tracker.FieldClosed] = *upd.Closed
	}
	if upd.AssignedToUserName != nil {
		set[tracker.FieldAssignedToUserName] = *upd.AssignedToUserName
	}
	put("classifiedOn", upd.ClassifiedOn != nil, upd.ClassifiedOn)
	put("classifiedBy", upd.ClassifiedBy != nil, upd.ClassifiedBy)
	put("closedOn", upd.ClosedOn != nil, upd.ClosedOn)
	put("closedBy", upd.ClosedBy != nil, upd.ClosedBy)
	put("openedOn", upd.OpenedOn != nil, upd.OpenedOn)
	put("openedBy", upd.OpenedBy != nil, upd.OpenedBy)
	put("assignedToUserId", upd.AssignedToUserID != nil, upd.AssignedToUserID)
	put("assignedOn", upd.AssignedOn != nil, upd.AssignedOn)
	put("assignedBy", upd.AssignedBy != nil, upd.AssignedBy)
	return set
}

// testSet addresses the array element matched by "tests._id" in the filter.
func testSet(upd tracker.TestUpdate) bson.M {
	set := bson.M{}
	if upd.Status != nil {
		set["tests.$.status"] = string(*upd.Status)
	}
	if upd.ExecutedTest != nil {
		set["tests.$.executedTest"] = *upd.ExecutedTest
	}
	if upd.ExecutedOn != nil {
		set["tests.$.executedOn"] = *upd.ExecutedOn
	}
	if upd.ExecutedBy != nil {
		set["tests.$.executedBy"] = *upd.ExecutedBy
	}
	if upd.LastUpdatedOn != nil {
		set["tests.$.lastUpdatedOn"] = *upd.LastUpdatedOn
	}
	if upd.LastUpdatedBy != nil {
		set["tests.$.lastUpdatedBy"] = *upd.LastUpdatedBy
	}
	return set
}
