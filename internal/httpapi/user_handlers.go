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

const (
	msgInvalidLogin   = "invalid login credential provided"
	msgDuplicateData  = "duplicate data not allowed"
	msgNothingToApply = "at least one field is required"
)

var errNoChange = errors.New("no change")

type registerRequest struct {
	EmailAddress string `json:"emailAddress" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8"`
	GivenName    string `json:"givenName" validate:"required,min=1"`
	FamilyName   string `json:"familyName" validate:"required,min=1"`
}

func (req *registerRequest) normalize() {
	req.EmailAddress = tracker.NormalizeEmail(req.EmailAddress)
	req.GivenName = strings.TrimSpace(req.GivenName)
	req.FamilyName = strings.TrimSpace(req.FamilyName)
}

type loginRequest struct {
	EmailAddress string `json:"emailAddress" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
}

func (req *loginRequest) normalize() {
	req.EmailAddress = tracker.NormalizeEmail(req.EmailAddress)
}

type updateMeRequest struct {
	Password   *string `json:"password" validate:"omitnil,min=8"`
	GivenName  *string `json:"givenName" validate:"omitnil,min=1"`
	FamilyName *string `json:"familyName" validate:"omitnil,min=1"`
}

func (req *updateMeRequest) normalize() {
	trimPtr(req.GivenName)
	trimPtr(req.FamilyName)
}

func (req *updateMeRequest) empty() bool {
	return req.Password == nil && req.GivenName == nil && req.FamilyName == nil
}

type updateUserRequest struct {
	updateMeRequest
	Role *auth.RoleSet `json:"role"`
}

func (req *updateUserRequest) empty() bool {
	return req.updateMeRequest.empty() && req.Role == nil
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.bind(w, r, &req) {
		return
	}
	ctx := r.Context()

	_, err := a.store.Users().GetByEmail(ctx, req.EmailAddress)
	switch {
	case err == nil:
		writeError(w, r, http.StatusConflict, "Email already registered")
		return
	case !errors.Is(err, tracker.ErrNotFound):
		a.internalError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password, a.hashCost)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	id := ids.NewObjectID()
	u := &tracker.User{
		ID:           id,
		EmailAddress: req.EmailAddress,
		Password:     hash,
		GivenName:    req.GivenName,
		FamilyName:   req.FamilyName,
		FullName:     tracker.FullName(req.GivenName, req.FamilyName),
		Role:         auth.RoleSet{},
		CreatedOn:    a.now().UTC(),
		CreatedBy:    &id,
	}
	if err := a.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, tracker.ErrAlreadyExists) {
			writeError(w, r, http.StatusConflict, "Email already registered")
			return
		}
		a.internalError(w, r, err)
		return
	}

	token, claims, err := a.tokens.Issue(ctx, u.Identity())
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	a.setAuthCookie(w, token)
	if err := a.audit.Record(ctx, audit.Entry{
		Op:     tracker.OpInsert,
		Col:    tracker.ColUser,
		Target: map[string]any{"userId": id.Hex()},
		Update: map[string]any{
			"emailAddress": u.EmailAddress,
			"givenName":    u.GivenName,
			"familyName":   u.FamilyName,
			"fullName":     u.FullName,
			"role":         u.Role.Strings(),
		},
		Actor: claims,
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "New user registered!",
		"userId":  id.Hex(),
		"token":   token,
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.bind(w, r, &req) {
		return
	}
	u, err := a.store.Users().GetByEmail(r.Context(), req.EmailAddress)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, msgInvalidLogin)
			return
		}
		a.internalError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(u.Password, req.Password); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidLogin)
		return
	}
	token, _, err := a.tokens.Issue(r.Context(), u.Identity())
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	a.setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome back!",
		"userId":  u.ID.Hex(),
		"token":   token,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	a.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out!"})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	q, err := parseUserQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.store.Users().List(r.Context(), q)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if users == nil {
		users = []tracker.UserSummary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	a.writeUser(w, r, me)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	a.writeUser(w, r, id)
}

func (a *API) writeUser(w http.ResponseWriter, r *http.Request, id primitive.ObjectID) {
	u, err := a.store.Users().Get(r.Context(), id)
	if err != nil {
		a.storeError(w, r, err, userNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if !a.bind(w, r, &req) {
		return
	}
	if req.empty() {
		writeError(w, r, http.StatusBadRequest, msgNothingToApply)
		return
	}
	_, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	updated, ok := a.applyUserUpdate(w, r, me, me, req, nil)
	if !ok {
		return
	}
	token, _, err := a.tokens.Issue(r.Context(), updated.Identity())
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	a.setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %s updated!", me.Hex()),
		"userId":  me.Hex(),
		"token":   token,
	})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	var req updateUserRequest
	if !a.bind(w, r, &req) {
		return
	}
	if req.empty() {
		writeError(w, r, http.StatusBadRequest, msgNothingToApply)
		return
	}
	if req.Role != nil {
		if err := req.Role.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, "role must name known roles")
			return
		}
	}
	_, actor, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if _, ok := a.applyUserUpdate(w, r, id, actor, req.updateMeRequest, req.Role); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %s updated!", id.Hex()),
		"userId":  id.Hex(),
	})
}

// applyUserUpdate diffs the request against the stored user, writes the change and
// records it. It returns the user as it now stands.
func (a *API) applyUserUpdate(w http.ResponseWriter, r *http.Request, id, actor primitive.ObjectID, req updateMeRequest, role *auth.RoleSet) (*tracker.User, bool) {
	ctx := r.Context()
	stored, err := a.store.Users().Get(ctx, id)
	if err != nil {
		a.storeError(w, r, err, userNotFound(id))
		return nil, false
	}

	upd, changes, err := a.diffUser(stored, req, role)
	if errors.Is(err, errNoChange) {
		writeError(w, r, http.StatusConflict, msgDuplicateData)
		return nil, false
	}
	if err != nil {
		a.internalError(w, r, err)
		return nil, false
	}
	upd.LastUpdatedOn = a.now().UTC()
	upd.LastUpdatedBy = actor

	if err := a.store.Users().Update(ctx, id, upd); err != nil {
		a.storeError(w, r, err, userNotFound(id))
		return nil, false
	}
	if err := a.audit.Record(ctx, audit.Entry{
		Op:     tracker.OpUpdate,
		Col:    tracker.ColUser,
		Target: map[string]any{"userId": id.Hex()},
		Update: changes,
	}); err != nil {
		a.internalError(w, r, err)
		return nil, false
	}
	upd.Apply(stored)
	return stored, true
}

func (a *API) diffUser(stored *tracker.User, req updateMeRequest, role *auth.RoleSet) (tracker.UserUpdate, map[string]any, error) {
	var upd tracker.UserUpdate
	changes := make(map[string]any)

	if req.Password != nil && auth.VerifyPassword(stored.Password, *req.Password) != nil {
		hash, err := auth.HashPassword(*req.Password, a.hashCost)
		if err != nil {
			return upd, nil, err
		}
		upd.Password = &hash
		changes["password"] = hash
	}
	given, family := stored.GivenName, stored.FamilyName
	if req.GivenName != nil && *req.GivenName != stored.GivenName {
		given = *req.GivenName
		upd.GivenName = &given
		changes["givenName"] = given
	}
	if req.FamilyName != nil && *req.FamilyName != stored.FamilyName {
		family = *req.FamilyName
		upd.FamilyName = &family
		changes["familyName"] = family
	}
	if role != nil && !role.Equal(stored.Role) {
		roles := auth.NewRoleSet(*role...)
		if roles == nil {
			roles = auth.RoleSet{}
		}
		upd.Role = &roles
		changes["role"] = roles.Strings()
	}
	if len(changes) == 0 {
		return upd, nil, errNoChange
	}
	if upd.GivenName != nil || upd.FamilyName != nil {
		full := tracker.FullName(given, family)
		upd.FullName = &full
		changes["fullName"] = full
	}
	return upd, changes, nil
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if err := a.store.Users().Delete(r.Context(), id); err != nil {
		a.storeError(w, r, err, userNotFound(id))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpDelete,
		Col:    tracker.ColUser,
		Target: map[string]any{"userId": id.Hex()},
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %s deleted!", id.Hex()),
		"userId":  id.Hex(),
	})
}

func userNotFound(id primitive.ObjectID) string {
	return fmt.Sprintf("User %s not found.", id.Hex())
}
