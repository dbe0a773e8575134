package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/audit"
	"bugtracker.org/internal/ids"
	"bugtracker.org/internal/tracker"
)

type newCommentRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

func (req *newCommentRequest) normalize() {
	req.Text = strings.TrimSpace(req.Text)
}

func (a *API) listComments(w http.ResponseWriter, r *http.Request) {
	bug, ok := a.loadBug(w, r)
	if !ok {
		return
	}
	comments := bug.Comments
	if comments == nil {
		comments = []tracker.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (a *API) getComment(w http.ResponseWriter, r *http.Request) {
	commentID, ok := pathID(w, r, "commentId")
	if !ok {
		return
	}
	bug, ok := a.loadBug(w, r)
	if !ok {
		return
	}
	c, found := bug.Comment(commentID)
	if !found {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Comment %s not found.", commentID.Hex()))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) newComment(w http.ResponseWriter, r *http.Request) {
	bugID, ok := pathID(w, r, "bugId")
	if !ok {
		return
	}
	var req newCommentRequest
	if !a.bind(w, r, &req) {
		return
	}
	claims, me, err := caller(r)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	c := tracker.Comment{
		ID:         ids.NewObjectID(),
		Text:       req.Text,
		Author:     me,
		AuthorName: claims.FullName,
		CreatedOn:  a.now().UTC(),
	}
	if err := a.store.Bugs().AddComment(r.Context(), bugID, c); err != nil {
		a.storeError(w, r, err, bugNotFound(bugID))
		return
	}
	if err := a.audit.Record(r.Context(), audit.Entry{
		Op:     tracker.OpInsert,
		Col:    tracker.ColComment,
		Target: childTarget(bugID, "commentId", c.ID),
		Update: map[string]any{"text": c.Text, "author": me.Hex(), "authorName": c.AuthorName},
	}); err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "New comment added!",
		"bugId":     bugID.Hex(),
		"commentId": c.ID.Hex(),
	})
}

func childTarget(bugID primitive.ObjectID, key string, id primitive.ObjectID) map[string]any {
	return map[string]any{"bugId": bugID.Hex(), key: id.Hex()}
}
