package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/api"
	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/models"
)

// DefaultCommentsLimit is the page size for an issue's comment listing
const DefaultCommentsLimit = 50

// Comment exported for testing purposes
type Comment struct {
	DB      databases.CommentDatabase
	IssueDB databases.IssueDatabase
	UserDB  databases.UserDatabase
}

type commentRequest struct {
	Content string `json:"content"`
}

// CommentsByIssueIDHandler returns an issue's comments, oldest first, with
// their authors attached
func (c Comment) CommentsByIssueIDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = DefaultCommentsLimit
	}

	comments, err := c.DB.Find(ctx, bson.M{"issue": iID},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetSkip(int64((page-1)*limit)).
			SetLimit(int64(limit)))
	if err != nil {
		config.ErrorStatus("failed to get comments", http.StatusNotFound, w, err)
		return
	}

	authorIDs := make([]primitive.ObjectID, 0, len(comments))
	for _, cm := range comments {
		authorIDs = append(authorIDs, cm.Author)
	}
	authors := map[primitive.ObjectID]*models.UserRef{}
	if len(authorIDs) > 0 {
		users, err := c.UserDB.Find(ctx, bson.M{"_id": bson.M{"$in": authorIDs}})
		if err != nil {
			config.ErrorStatus("failed to get comment authors", http.StatusInternalServerError, w, err)
			return
		}
		for _, u := range users {
			authors[u.ID] = &models.UserRef{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
		}
	}

	views := make([]models.CommentView, 0, len(comments))
	for _, cm := range comments {
		views = append(views, models.CommentView{Comment: cm, AuthorRef: authors[cm.Author]})
	}

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: views})
}

// CreateCommentHandler adds a comment to an issue and bumps the issue's
// comment counter
func (c Comment) CreateCommentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode comment body", http.StatusBadRequest, w, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		config.ErrorStatus("comment content is required", http.StatusBadRequest, w,
			fmt.Errorf("empty comment content"))
		return
	}
	if len(content) > models.MaxCommentLength {
		config.ErrorStatus("comment too long", http.StatusBadRequest, w,
			fmt.Errorf("comment exceeds %d characters", models.MaxCommentLength))
		return
	}

	if _, err := c.IssueDB.FindOne(ctx, bson.M{"_id": iID}); err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	now := time.Now().UTC()
	comment := &models.Comment{
		ID:        primitive.NewObjectID(),
		Issue:     iID,
		Author:    user.ID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := c.DB.InsertOne(ctx, comment); err != nil {
		config.ErrorStatus("failed to create comment", http.StatusInternalServerError, w, err)
		return
	}
	if err := c.IssueDB.UpdateOne(ctx, bson.M{"_id": iID}, bson.M{"$inc": bson.M{"commentsCount": 1}}); err != nil {
		zap.S().Errorw("failed to bump comment count", "issue", issueID, "error", err)
	}

	writeJSON(w, http.StatusCreated, models.IssueResponse{Success: true, Data: comment})
}

// UpdateCommentHandler lets a comment's author edit its content
func (c Comment) UpdateCommentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	commentID := mux.Vars(r)["comment_id"]

	cID, err := primitive.ObjectIDFromHex(commentID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	comment, err := c.DB.FindOne(ctx, bson.M{"_id": cID})
	if err != nil {
		config.ErrorStatus("failed to get comment by ID", http.StatusNotFound, w, err)
		return
	}
	if comment.Author != user.ID {
		config.ErrorStatus("only the author can edit this comment", http.StatusForbidden, w,
			fmt.Errorf("user %s is not the author of comment %s", user.ID.Hex(), commentID))
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode comment body", http.StatusBadRequest, w, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" || len(content) > models.MaxCommentLength {
		config.ErrorStatus("comment content must be 1 to 500 characters", http.StatusBadRequest, w,
			fmt.Errorf("comment content length %d out of range", len(content)))
		return
	}

	now := time.Now().UTC()
	if err := c.DB.UpdateOne(ctx, bson.M{"_id": cID},
		bson.M{"$set": bson.M{"content": content, "updatedAt": now}}); err != nil {
		config.ErrorStatus("failed to update comment", http.StatusInternalServerError, w, err)
		return
	}
	comment.Content = content
	comment.UpdatedAt = now

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: comment})
}

// DeleteCommentHandler removes a comment. The author or an admin may
// delete; the issue's comment counter is decremented afterwards.
func (c Comment) DeleteCommentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	commentID := mux.Vars(r)["comment_id"]

	cID, err := primitive.ObjectIDFromHex(commentID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	comment, err := c.DB.FindOne(ctx, bson.M{"_id": cID})
	if err != nil {
		config.ErrorStatus("failed to get comment by ID", http.StatusNotFound, w, err)
		return
	}
	if comment.Author != user.ID && !user.IsAdmin() {
		config.ErrorStatus("only the author or an admin can delete this comment", http.StatusForbidden, w,
			fmt.Errorf("user %s may not delete comment %s", user.ID.Hex(), commentID))
		return
	}

	if err := c.DB.DeleteOne(ctx, bson.M{"_id": cID}); err != nil {
		config.ErrorStatus("failed to delete comment", http.StatusInternalServerError, w, err)
		return
	}
	if err := c.IssueDB.UpdateOne(ctx, bson.M{"_id": comment.Issue}, bson.M{"$inc": bson.M{"commentsCount": -1}}); err != nil {
		zap.S().Errorw("failed to drop comment count", "issue", comment.Issue.Hex(), "error", err)
	}

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Message: "comment deleted"})
}
