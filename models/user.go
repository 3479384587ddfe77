package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User holds the structure for the users collection in mongo. Users are
// provisioned lazily from the identity provider on first verified request;
// no credentials are ever stored here.
type User struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	ClerkUserID string             `json:"clerkUserId" bson:"clerkUserId"`
	Email       string             `json:"email" bson:"email"`
	Name        string             `json:"name" bson:"name"`
	Avatar      string             `json:"avatar" bson:"avatar"`
	Role        string             `json:"role" bson:"role"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// AuthUser is the authenticated principal carried in the request context
type AuthUser struct {
	ID   primitive.ObjectID
	Name string
	Role string
}

// IsAdmin reports whether the principal holds the admin role
func (u AuthUser) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserWithStats is a user plus their reported-issue count, for the admin view
type UserWithStats struct {
	User
	IssueCount int64 `json:"issueCount"`
}
