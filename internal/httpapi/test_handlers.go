package httpapi

import (
	"encoding/json"
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

// testStatusFlag is the wire pass/fail flag: 1 or 0, as a number or a string.
type testStatusFlag bool

func (f *testStatusFlag) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw = strings.TrimSpace(s)
	}
	switch raw {
	case "1":
		*f = true
	case "0":
		*f = false
	default:
		return errors.New("status must be 0 or 1")
	}
	return nil
}

func (f testStatusFlag) status() tracker.TestStatus {
	return tracker.StatusFromFlag(bool(f))
}

type testStatusRequest struct {
	Status *testStatusFlag `json:"status" validate:"required"`
}

func (a *API) listTests(w http.ResponseWriter, r *http.Request) {
	bug, ok := a.loadBug(w, r)
	if !ok {
		return
	}
	tests := bug.Tests
	if tests == nil {
		tests = []tracker.TestCase{}
	}
	writeJSON(w, http.StatusOK, tests)
}

func (a *API) getTest(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := a.loadTest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (a *API) newTest(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req testStatusRequest
	if !a.bind(w, r, &req) {
		return
	}
	claims, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	tc := tracker.TestCase{
		ID:        ids.NewObjectID(),
		Status:    req.Status.status(),
		CreatedBy: me,
		CreatedOn: a.now().UTC(),
	}
	if claims.HasRole(auth.RoleQualityAnalyst) {
		tc.TestCaseAuthor = claims.FullName
	}
	if err := a.store.Bugs().AddTest(r.Context(), bugID, tc); err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpInsert,
		Col:    tracker.ColTest,
		Target: childTarget(bugID, "testId", tc.ID),
		Update: map[string]any{"status": tc.Status, "testCaseAuthor": tc.TestCaseAuthor},
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Bug Test %s added!", tc.ID.Hex()),
		"bugId":   bugID.Hex(),
		"testId":  tc.ID.Hex(),
	})
}

func (a *API) updateTest(w http.ResponseWriter, r *http.Request) {
	var req testStatusRequest
	if !a.bind(w, r, &req) {
		return
	}
	bug, tc, ok := a.loadTest(w, r)
	if !ok {
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	now := a.now().UTC()
	status := req.Status.status()
	upd := tracker.TestUpdate{
		Status:        &status,
		LastUpdatedOn: &now,
		LastUpdatedBy: &me,
	}
	a.writeTestUpdate(w, r, bug.ID, tc.ID, tracker.OpUpdate, upd,
		map[string]any{"status": status, "lastUpdatedOn": now, "lastUpdatedBy": me.Hex()},
		fmt.Sprintf("Bug Test %s updated!", tc.ID.Hex()))
}

func (a *API) executeTest(w http.ResponseWriter, r *http.Request) {
	bug, tc, ok := a.loadTest(w, r)
	if !ok {
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	passed := a.outcome()
	executed := tracker.ExecuteFailed
	if passed {
		executed = tracker.ExecutePassed
	}
	now := a.now().UTC()
	status := tracker.StatusFromFlag(passed)
	upd := tracker.TestUpdate{
		Status:       &status,
		ExecutedTest: &executed,
		ExecutedOn:   &now,
		ExecutedBy:   &me,
	}
	a.writeTestUpdate(w, r, bug.ID, tc.ID, tracker.OpExecute, upd,
		map[string]any{"status": status, "executedTest": executed, "executedOn": now, "executedBy": me.Hex()},
		fmt.Sprintf("Bug Test %s executed!", tc.ID.Hex()))
}

func (a *API) deleteTest(w http.ResponseWriter, r *http.Request) {
	bug, tc, ok := a.loadTest(w, r)
	if !ok {
		return
	}
	if err := a.store.Bugs().RemoveTest(r.Context(), bug.ID, tc.ID); err != nil {
		a.storeError(w, r, err, testNotFound(tc.ID))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpDelete,
		Col:    tracker.ColTest,
		Target: childTarget(bug.ID, "testId", tc.ID),
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Test %s deleted.", tc.ID.Hex()),
		"bugId":   bug.ID.Hex(),
		"testId":  tc.ID.Hex(),
	})
}

func (a *API) writeTestUpdate(w http.ResponseWriter, r *http.Request, bugID, testID primitive.ObjectID, op tracker.Op, upd tracker.TestUpdate, changes map[string]any, msg string) {
	if err := a.store.Bugs().UpdateTest(r.Context(), bugID, testID, upd); err != nil {
		a.storeError(w, r, err, testNotFound(testID))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     op,
		Col:    tracker.ColTest,
		Target: childTarget(bugID, "testId", testID),
		Update: changes,
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"bugId":   bugID.Hex(),
		"testId":  testID.Hex(),
	})
}

// loadTest resolves the bugId and testId path variables, writing 400 or 404 itself.
func (a *API) loadTest(w http.ResponseWriter, r *http.Request) (*tracker.Bug, *tracker.TestCase, bool) {
	testID, ok := pathID(w, r, "testId")
	if !ok {
		return nil, nil, false
	}
	bug, ok := a.loadBug(w, r)
	if !ok {
		return nil, nil, false
	}
	tc, found := bug.Test(testID)
	if !found {
		writeError(w, r, http.StatusNotFound, testNotFound(testID))
		return nil, nil, false
	}
	return bug, tc, true
}

func testNotFound(id primitive.ObjectID) string {
	return fmt.Sprintf("Test %s not found.", id.Hex())
}
