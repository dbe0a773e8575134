package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

func TestNewCommentIsAppendedLast(t *testing.T) {
	env := newTestEnv(t)
	author, token := env.seedUser("writer", auth.RoleDeveloper)
	bugID := env.newBug(token, "bug")
	base := "/api/bug/" + bugID + "/comment"

	for _, text := range []string{"first", "second"} {
		rr := env.do(http.MethodPut, base+"/new", token, map[string]string{"text": text})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	rr := env.do(http.MethodPut, base+"/new", token, map[string]string{"text": "third"})
	require.Equal(t, http.StatusOK, rr.Code)
	last := decodeMap(t, rr)["commentId"].(string)

	comments := decodeList(t, env.do(http.MethodGet, base+"/list", token, nil))
	require.Len(t, comments, 3)
	assert.Equal(t, last, comments[2]["_id"])
	assert.Equal(t, "third", comments[2]["text"])
	assert.Equal(t, author.ID.Hex(), comments[2]["author"])
	assert.Equal(t, "writer Tester", comments[2]["authorName"])

	one := env.do(http.MethodGet, base+"/"+last, token, nil)
	require.Equal(t, http.StatusOK, one.Code)
	assert.Equal(t, "third", decodeMap(t, one)["text"])

	edits := env.store.EditRecords()
	rec := edits[len(edits)-1]
	assert.Equal(t, tracker.ColComment, rec.Col)
	assert.Equal(t, map[string]any{"bugId": bugID, "commentId": last}, rec.Target)
}

func TestCommentNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser("reader", auth.RoleDeveloper)
	bugID := env.newBug(token, "bug")
	missing := ids.NewObjectID().Hex()

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/bug/"+missing+"/comment/list", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/bug/"+bugID+"/comment/"+missing, token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/bug/"+bugID+"/comment/zz", token, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		env.do(http.MethodPut, "/api/bug/"+missing+"/comment/new", token, map[string]string{"text": "hi"}).Code)
}

func TestNewCommentRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser("dev", auth.RoleDeveloper)
	_, nobody := env.seedUser("nobody")
	bugID := env.newBug(token, "bug")

	rr := env.do(http.MethodPut, "/api/bug/"+bugID+"/comment/new", nobody, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", decodeMap(t, rr)["error"])
}

func TestTestCaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	qa, token := env.seedUser("quinn", auth.RoleQualityAnalyst)
	bugID := env.newBug(token, "bug")
	base := "/api/bug/" + bugID + "/test"

	rr := env.do(http.MethodPut, base+"/new", token, `{"status":"1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	testID := decodeMap(t, rr)["testId"].(string)
	assert.Equal(t, "Bug Test "+testID+" added!", decodeMap(t, rr)["message"])

	tc := decodeMap(t, env.do(http.MethodGet, base+"/"+testID, token, nil))
	assert.Equal(t, "pass", tc["status"])
	assert.Equal(t, "quinn Tester", tc["testCaseAuthor"])
	assert.Equal(t, qa.ID.Hex(), tc["createdBy"])

	rr = env.do(http.MethodPut, base+"/"+testID, token, `{"status":0}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tc = decodeMap(t, env.do(http.MethodGet, base+"/"+testID, token, nil))
	assert.Equal(t, "fail", tc["status"])
	assert.Equal(t, qa.ID.Hex(), tc["lastUpdatedBy"])

	rr = env.do(http.MethodPut, base+"/"+testID+"/execute", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tc = decodeMap(t, env.do(http.MethodGet, base+"/"+testID, token, nil))
	assert.Equal(t, tracker.ExecutePassed, tc["executedTest"])
	assert.Equal(t, "pass", tc["status"])

	rr = env.do(http.MethodDelete, base+"/"+testID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeList(t, env.do(http.MethodGet, base+"/list", token, nil)))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, base+"/"+testID, token, nil).Code)

	var ops []tracker.Op
	for _, rec := range env.store.EditRecords() {
		if rec.Col == tracker.ColTest {
			ops = append(ops, rec.Op)
		}
	}
	assert.Equal(t, []tracker.Op{tracker.OpInsert, tracker.OpUpdate, tracker.OpExecute, tracker.OpDelete}, ops)
}

func TestTestStatusValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser("quinn", auth.RoleQualityAnalyst)
	bugID := env.newBug(token, "bug")

	for _, body := range []string{`{}`, `{"status":2}`, `{"status":"pass"}`, `{"status":null}`} {
		rr := env.do(http.MethodPut, "/api/bug/"+bugID+"/test/new", token, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestUpdateTestRequiresQualityAnalyst(t *testing.T) {
	env := newTestEnv(t)
	_, qa := env.seedUser("quinn", auth.RoleQualityAnalyst)
	_, dev := env.seedUser("dev", auth.RoleDeveloper)
	bugID := env.newBug(qa, "bug")
	base := "/api/bug/" + bugID + "/test"

	rr := env.do(http.MethodPut, base+"/new", qa, `{"status":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	testID := decodeMap(t, rr)["testId"].(string)

	denied := env.do(http.MethodPut, base+"/"+testID, dev, `{"status":0}`)
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPut, base+"/new", dev, `{"status":1}`).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, base+"/"+testID, dev, nil).Code)

	tc := decodeMap(t, env.do(http.MethodGet, base+"/"+testID, dev, nil))
	assert.Equal(t, "pass", tc["status"])
	assert.NotContains(t, tc, "lastUpdatedOn")
}

func TestExecuteFailureOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.api.outcome = func() bool { return false }
	_, qa := env.seedUser("quinn", auth.RoleQualityAnalyst)
	bugID := env.newBug(qa, "bug")
	base := "/api/bug/" + bugID + "/test"

	testID := decodeMap(t, env.do(http.MethodPut, base+"/new", qa, `{"status":1}`))["testId"].(string)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, base+"/"+testID+"/execute", qa, nil).Code)

	tc := decodeMap(t, env.do(http.MethodGet, base+"/"+testID, qa, nil))
	assert.Equal(t, tracker.ExecuteFailed, tc["executedTest"])
	assert.Equal(t, "fail", tc["status"])
	assert.NotEmpty(t, tc["executedOn"])
}
