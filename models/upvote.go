package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Upvote holds the structure for the upvotes collection in mongo.
// Uniqueness of (issue, user) is enforced by a compound index so a
// concurrent double-toggle cannot create two votes.
type Upvote struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Issue     primitive.ObjectID `json:"issue" bson:"issue"`
	User      primitive.ObjectID `json:"user" bson:"user"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// UpvoteToggleResponse reports the post-toggle state to the client
type UpvoteToggleResponse struct {
	Success      bool  `json:"success"`
	Voted        bool  `json:"voted"`
	UpvotesCount int64 `json:"upvotesCount"`
}
