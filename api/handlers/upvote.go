package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/api"
	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/models"
)

// Upvote exported for testing purposes
type Upvote struct {
	DB      databases.UpvoteDatabase
	IssueDB databases.IssueDatabase
	Hub     *api.Hub
}

// ToggleUpvoteHandler flips the caller's vote on an issue. A first call
// records the vote, a second removes it; the issue's counter moves with
// it. The unique (issue,user) index keeps double submits idempotent.
func (u Upvote) ToggleUpvoteHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	issue, err := u.IssueDB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	voted := false
	delta := int64(0)
	_, err = u.DB.FindOne(ctx, bson.M{"issue": iID, "user": user.ID})
	switch err {
	case nil:
		if err := u.DB.DeleteOne(ctx, bson.M{"issue": iID, "user": user.ID}); err != nil {
			config.ErrorStatus("failed to remove upvote", http.StatusInternalServerError, w, err)
			return
		}
		delta = -1
	case mongo.ErrNoDocuments:
		upvote := &models.Upvote{
			ID:        primitive.NewObjectID(),
			Issue:     iID,
			User:      user.ID,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := u.DB.InsertOne(ctx, upvote); err != nil {
			config.ErrorStatus("failed to record upvote", http.StatusInternalServerError, w, err)
			return
		}
		voted = true
		delta = 1
	default:
		config.ErrorStatus("failed to check existing upvote", http.StatusInternalServerError, w, err)
		return
	}

	if err := u.IssueDB.UpdateOne(ctx, bson.M{"_id": iID},
		bson.M{"$inc": bson.M{"upvotesCount": delta}}); err != nil {
		zap.S().Errorw("failed to move upvote count", "issue", issueID, "error", err)
	}
	count := issue.UpvotesCount + delta
	if count < 0 {
		count = 0
	}
	u.Hub.Broadcast(api.Event{Type: "upvote_changed", Data: bson.M{
		"_id":          issueID,
		"upvotesCount": count,
	}})

	writeJSON(w, http.StatusOK, models.UpvoteToggleResponse{
		Success:      true,
		Voted:        voted,
		UpvotesCount: count,
	})
}
