package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/tracker"
)

func registerBody(email string) map[string]string {
	return map[string]string{
		"emailAddress": email,
		"password":     "correct-horse",
		"givenName":    " Ada ",
		"familyName":   "Lovelace",
	}
}

func TestRegisterIssuesTokenAndRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/user/register", "", registerBody("ada@example.com"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeMap(t, rr)
	assert.Equal(t, "New user registered!", body["message"])

	claims, err := env.tokens.Verify(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, body["userId"], claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada Lovelace", claims.FullName)
	assert.Empty(t, claims.Permissions)

	cookie := findCookie(rr, authCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, body["token"], cookie.Value)

	edits := env.store.EditRecords()
	require.Len(t, edits, 1)
	assert.Equal(t, tracker.OpInsert, edits[0].Op)
	assert.Equal(t, tracker.ColUser, edits[0].Col)
	assert.Equal(t, body["userId"], edits[0].Auth["_id"])

	dup := env.do(http.MethodPost, "/api/user/register", "", registerBody("ADA@example.com "))
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Len(t, env.store.EditRecords(), 1)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]struct {
		body  any
		field string
	}{
		"short password": {map[string]string{"emailAddress": "a@b.co", "password": "short", "givenName": "A", "familyName": "B"}, "password"},
		"bad email":      {map[string]string{"emailAddress": "nope", "password": "long-enough", "givenName": "A", "familyName": "B"}, "emailAddress"},
		"blank name":     {map[string]string{"emailAddress": "a@b.co", "password": "long-enough", "givenName": "  ", "familyName": "B"}, "givenName"},
		"missing family": {map[string]string{"emailAddress": "a@b.co", "password": "long-enough", "givenName": "A"}, "familyName"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/user/register", "", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decodeMap(t, rr)["error"], tc.field)
		})
	}

	rr := env.do(http.MethodPost, "/api/user/register", "", `{"emailAddress":"a@b.co","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, env.store.EditRecords())
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.seedUser("grace", auth.RoleDeveloper)

	bad := env.do(http.MethodPost, "/api/user/login", "", map[string]string{
		"emailAddress": u.EmailAddress, "password": "wrong-password",
	})
	require.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, msgInvalidLogin, decodeMap(t, bad)["error"])

	unknown := env.do(http.MethodPost, "/api/user/login", "", map[string]string{
		"emailAddress": "nobody@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)

	ok := env.do(http.MethodPost, "/api/user/login", "", map[string]string{
		"emailAddress": "GRACE@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	body := decodeMap(t, ok)
	assert.Equal(t, "Welcome back!", body["message"])
	claims, err := env.tokens.Verify(body["token"].(string))
	require.NoError(t, err)
	assert.True(t, claims.HasPermission(auth.PermEditIfAssignedTo))
	assert.False(t, claims.HasPermission(auth.PermEditAnyBug))
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/user/logout", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cookie := findCookie(rr, authCookie)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestGetMeNeverExposesPassword(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.seedUser("linus")

	rr := env.do(http.MethodGet, "/api/user/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, u.ID.Hex(), body["_id"])
	assert.NotContains(t, body, "password")
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t)
	u, token := env.seedUser("barbara", auth.RoleDeveloper)

	same := env.do(http.MethodPut, "/api/user/me", token, map[string]string{"givenName": "barbara"})
	assert.Equal(t, http.StatusConflict, same.Code)
	assert.Equal(t, msgDuplicateData, decodeMap(t, same)["error"])

	samePassword := env.do(http.MethodPut, "/api/user/me", token, map[string]string{"password": "password123"})
	assert.Equal(t, http.StatusConflict, samePassword.Code)

	empty := env.do(http.MethodPut, "/api/user/me", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
	assert.Empty(t, env.store.EditRecords())

	rr := env.do(http.MethodPut, "/api/user/me", token, map[string]string{"familyName": "Liskov", "password": "new-password"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	claims, err := env.tokens.Verify(decodeMap(t, rr)["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "barbara Liskov", claims.FullName)

	stored, err := env.store.Users().Get(testContext(t), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "barbara Liskov", stored.FullName)
	require.NotNil(t, stored.LastUpdatedBy)
	assert.Equal(t, u.ID, *stored.LastUpdatedBy)
	require.NoError(t, auth.VerifyPassword(stored.Password, "new-password"))

	edits := env.store.EditRecords()
	require.Len(t, edits, 1)
	assert.Equal(t, "********", edits[0].Update["password"])
}

func TestUpdateUserRole(t *testing.T) {
	env := newTestEnv(t)
	target, _ := env.seedUser("dev")
	_, manager := env.seedUser("boss", auth.RoleTechnicalManager)
	_, developer := env.seedUser("peer", auth.RoleDeveloper)
	path := "/api/user/" + target.ID.Hex()

	forbidden := env.do(http.MethodPut, path, developer, map[string]any{"role": "Developer"})
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	unknown := env.do(http.MethodPut, path, manager, map[string]any{"role": []string{"Developer", "Wizard"}})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)

	rr := env.do(http.MethodPut, path, manager, map[string]any{"role": "Quality Analyst"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stored, err := env.store.Users().Get(testContext(t), target.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSet{auth.RoleQualityAnalyst}, stored.Role)

	again := env.do(http.MethodPut, path, manager, map[string]any{"role": []string{"Quality Analyst"}})
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	target, _ := env.seedUser("gone")
	_, pm := env.seedUser("pm", auth.RoleProductManager)
	_, qa := env.seedUser("qa", auth.RoleQualityAnalyst)
	path := "/api/user/" + target.ID.Hex()

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, path, qa, nil).Code)

	rr := env.do(http.MethodDelete, path, pm, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, target.ID.Hex(), decodeMap(t, rr)["userId"])

	missing := env.do(http.MethodDelete, path, pm, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Len(t, env.store.EditRecords(), 1)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser("carol", auth.RoleDeveloper)
	env.seedUser("alice", auth.RoleQualityAnalyst)
	env.seedUser("bob")

	rr := env.do(http.MethodGet, "/api/user/list", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	users := decodeList(t, rr)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0]["givenName"])
	assert.NotContains(t, users[0], "password")

	byRole := decodeList(t, env.do(http.MethodGet, "/api/user/list?role=Quality%20Analyst", token, nil))
	require.Len(t, byRole, 1)
	assert.Equal(t, "alice", byRole[0]["givenName"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/user/list?role=Wizard", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/user/list?minAge=-1", token, nil).Code)
}

func TestUserPathIDValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser("val", auth.RoleDeveloper)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/user/not-an-id", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/user/0123456789abcdef01234567", token, nil).Code)
}
