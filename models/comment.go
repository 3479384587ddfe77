package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxCommentLength caps comment content
const MaxCommentLength = 500

// Comment holds the structure for the comments collection in mongo
type Comment struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Issue     primitive.ObjectID `json:"issue" bson:"issue"`
	Author    primitive.ObjectID `json:"author" bson:"author"`
	Content   string             `json:"content" bson:"content"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// CommentView is a comment plus its populated author
type CommentView struct {
	Comment
	AuthorRef *UserRef `json:"authorRef,omitempty"`
}
