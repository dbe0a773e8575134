package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/audit"
	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

type newBugRequest struct {
	Title            string `json:"title" validate:"required,min=1"`
	Description      string `json:"description" validate:"required,min=1"`
	StepsToReproduce string `json:"stepsToReproduce" validate:"required,min=1"`
}

func (req *newBugRequest) normalize() {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.StepsToReproduce = strings.TrimSpace(req.StepsToReproduce)
}

type updateBugRequest struct {
	Title            *string `json:"title" validate:"omitnil,min=1"`
	Description      *string `json:"description" validate:"omitnil,min=1"`
	StepsToReproduce *string `json:"stepsToReproduce" validate:"omitnil,min=1"`
}

func (req *updateBugRequest) normalize() {
	trimPtr(req.Title)
	trimPtr(req.Description)
	trimPtr(req.StepsToReproduce)
}

type classifyRequest struct {
	BugClass string `json:"bugClass" validate:"required,oneof=unclassified approved unapproved duplicate"`
}

func (req *classifyRequest) normalize() {
	req.BugClass = strings.ToLower(strings.TrimSpace(req.BugClass))
}

type assignRequest struct {
	AssignedToUserID string `json:"assignedToUserId" validate:"required,len=24,hexadecimal"`
}

func (req *assignRequest) normalize() {
	req.AssignedToUserID = strings.TrimSpace(req.AssignedToUserID)
}

type closeRequest struct {
	Closed string `json:"closed" validate:"required,oneof=close open"`
}

func (req *closeRequest) normalize() {
	req.Closed = strings.ToLower(strings.TrimSpace(req.Closed))
}

func (a *API) listBugs(w http.ResponseWriter, r *http.Request) {
	q, err := parseBugQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bugs, err := a.store.Bugs().List(r.Context(), q)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if bugs == nil {
		bugs = []tracker.BugSummary{}
	}
	writeJSON(w, http.StatusOK, bugs)
}

func (a *API) getBug(w http.ResponseWriter, r *http.Request) {
	bug, ok := a.loadBug(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (a *API) newBug(w http.ResponseWriter, r *http.Request) {
	var req newBugRequest
	if !a.bind(w, r, &req) {
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	bug := &tracker.Bug{
		ID:               ids.NewObjectID(),
		Title:            req.Title,
		Description:      req.Description,
		StepsToReproduce: req.StepsToReproduce,
		BugClass:         tracker.ClassUnclassified,
		Closed:           false,
		CreatedBy:        me,
		CreatedOn:        a.now().UTC(),
		Comments:         []tracker.Comment{},
		Tests:            []tracker.TestCase{},
	}
	if err := a.store.Bugs().Create(r.Context(), bug); err != nil {
		a.storeError(w, r, err, "")
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpInsert,
		Col:    tracker.ColBug,
		Target: bugTarget(bug.ID),
		Update: map[string]any{
			"title":            bug.Title,
			"description":      bug.Description,
			"stepsToReproduce": bug.StepsToReproduce,
			"bugClass":         bug.BugClass,
			"closed":           bug.Closed,
		},
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "New bug reported!",
		"bugId":   bug.ID.Hex(),
	})
}

// canEditBug applies the field-edit rule: any bug, the bug assigned to the
// caller, or the bug the caller reported, each behind its own permission.
func canEditBug(claims *auth.Claims, me primitive.ObjectID, bug *tracker.Bug) bool {
	if claims.HasPermission(auth.PermEditAnyBug) {
		return true
	}
	if claims.HasPermission(auth.PermEditIfAssignedTo) && bug.AssignedToUserID != nil && *bug.AssignedToUserID == me {
		return true
	}
	return claims.HasPermission(auth.PermEditMyBug) && bug.CreatedBy == me
}

func (a *API) updateBug(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req updateBugRequest
	if !a.bind(w, r, &req) {
		return
	}
	if req.Title == nil && req.Description == nil && req.StepsToReproduce == nil {
		writeError(w, r, http.StatusBadRequest, msgNothingToApply)
		return
	}
	claims, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	bug, err := a.store.Bugs().Get(r.Context(), bugID)
	if err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}
	if !canEditBug(claims, me, bug) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var upd tracker.BugUpdate
	changes := make(map[string]any)
	diffString := func(field string, dst **string, want *string, have string) {
		if want != nil && *want != have {
			*dst = want
			changes[field] = *want
		}
	}
	diffString(tracker.FieldTitle, &upd.Title, req.Title, bug.Title)
	diffString(tracker.FieldDescription, &upd.Description, req.Description, bug.Description)
	diffString(tracker.FieldStepsToReproduce, &upd.StepsToReproduce, req.StepsToReproduce, bug.StepsToReproduce)
	if len(changes) == 0 {
		writeError(w, r, http.StatusConflict, msgDuplicateData)
		return
	}

	a.writeBugUpdate(w, r, bugID, me, upd, changes, fmt.Sprintf("Bug %s updated!", bugID.Hex()))
}

func (a *API) classifyBug(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req classifyRequest
	if !a.bind(w, r, &req) {
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	now := a.now().UTC()
	class := tracker.Classification(req.BugClass)
	upd := tracker.BugUpdate{
		BugClass:     &class,
		ClassifiedOn: &now,
		ClassifiedBy: &me,
	}
	a.writeBugUpdate(w, r, bugID, me, upd,
		map[string]any{"bugClass": class, "classifiedOn": now, "classifiedBy": me.Hex()},
		fmt.Sprintf("Bug %s classified!", bugID.Hex()))
}

func (a *API) assignBug(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req assignRequest
	if !a.bind(w, r, &req) {
		return
	}
	assigneeID, err := ids.ParseObjectID(req.AssignedToUserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "assignedToUserId must be a 24 character hex string")
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if _, err := a.store.Bugs().Get(r.Context(), bugID); err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}
	assignee, err := a.store.Users().Get(r.Context(), assigneeID)
	if err != nil {
		a.storeError(w, r, err, userNotFound(assigneeID))
		return
	}

	now := a.now().UTC()
	upd := tracker.BugUpdate{
		AssignedToUserID:   &assignee.ID,
		AssignedToUserName: &assignee.FullName,
		AssignedOn:         &now,
		AssignedBy:         &me,
	}
	a.writeBugUpdate(w, r, bugID, me, upd,
		map[string]any{
			"assignedToUserId":   assignee.ID.Hex(),
			"assignedToUserName": assignee.FullName,
			"assignedOn":         now,
			"assignedBy":         me.Hex(),
		},
		fmt.Sprintf("Bug %s assigned!", bugID.Hex()))
}

func (a *API) closeBug(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req closeRequest
	if !a.bind(w, r, &req) {
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	bug, err := a.store.Bugs().Get(r.Context(), bugID)
	if err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}

	closing := req.Closed == "close"
	if bug.Closed == closing {
		state := "open"
		if closing {
			state = "closed"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("Bug %s is already %s.", bugID.Hex(), state),
			"bugId":   bugID.Hex(),
		})
		return
	}

	now := a.now().UTC()
	upd := tracker.BugUpdate{Closed: &closing}
	changes := map[string]any{"closed": closing}
	msg := fmt.Sprintf("Bug %s opened!", bugID.Hex())
	if closing {
		upd.ClosedOn, upd.ClosedBy = &now, &me
		changes["closedOn"], changes["closedBy"] = now, me.Hex()
		msg = fmt.Sprintf("Bug %s closed!", bugID.Hex())
	} else {
		upd.OpenedOn, upd.OpenedBy = &now, &me
		changes["openedOn"], changes["openedBy"] = now, me.Hex()
	}
	a.writeBugUpdate(w, r, bugID, me, upd, changes, msg)
}

// writeBugUpdate stamps, persists and audits one bug update and writes the envelope.
func (a *API) writeBugUpdate(w http.ResponseWriter, r *http.Request, bugID, me primitive.ObjectID, upd tracker.BugUpdate, changes map[string]any, msg string) {
	upd.LastUpdatedOn = a.now().UTC()
	upd.LastUpdatedBy = me
	if err := a.store.Bugs().Update(r.Context(), bugID, upd); err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpUpdate,
		Col:    tracker.ColBug,
		Target: bugTarget(bugID),
		Update: changes,
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"bugId":   bugID.Hex(),
	})
}

// loadBug reads the bug named by the bugId path variable, writing 400 or 404 itself.
func (a *API) loadBug(w http.ResponseWriter, r *http.Request) (*tracker.Bug, bool) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return nil, false
	}
	bug, err := a.store.Bugs().Get(r.Context(), bugID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, bugNotFound(bugID))
			return nil, false
		}
		a.internalError(w, r, err)
		return nil, false
	}
	return bug, true
}

func bugTarget(id primitive.ObjectID) map[string]any {
	return map[string]any{"bugId": id.Hex()}
}

func bugNotFound(id primitive.ObjectID) string {
	return fmt.Sprintf("Bug %s not found.", id.Hex())
}
