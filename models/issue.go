package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Issue categories
const (
	CategoryPothole     = "pothole"
	CategoryGarbage     = "garbage"
	CategoryStreetLight = "street_light"
	CategoryWaterSupply = "water_supply"
	CategorySewage      = "sewage"
	CategoryRoadDamage  = "road_damage"
	CategoryElectricity = "electricity"
	CategoryOther       = "other"
)

// Issue statuses
const (
	StatusReported   = "reported"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
)

// ValidCategories is the closed set of accepted issue categories
var ValidCategories = map[string]bool{
	CategoryPothole:     true,
	CategoryGarbage:     true,
	CategoryStreetLight: true,
	CategoryWaterSupply: true,
	CategorySewage:      true,
	CategoryRoadDamage:  true,
	CategoryElectricity: true,
	CategoryOther:       true,
}

// ValidStatuses is the closed set of accepted issue statuses
var ValidStatuses = map[string]bool{
	StatusReported:   true,
	StatusInProgress: true,
	StatusResolved:   true,
}

// GeoPoint is a GeoJSON point; coordinates are [lng, lat] as mongo's
// 2dsphere index expects
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
	Address     string    `json:"address" bson:"address"`
}

// TimelineEntry records one status transition on an issue
type TimelineEntry struct {
	Status    string             `json:"status" bson:"status"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
	UpdatedBy primitive.ObjectID `json:"updatedBy" bson:"updatedBy"`
	Note      string             `json:"note,omitempty" bson:"note,omitempty"`
}

// ResolutionProof documents how an issue was closed out
type ResolutionProof struct {
	Images     []string           `json:"images" bson:"images"`
	Note       string             `json:"note" bson:"note"`
	ResolvedAt time.Time          `json:"resolvedAt" bson:"resolvedAt"`
	ResolvedBy primitive.ObjectID `json:"resolvedBy" bson:"resolvedBy"`
}

// Issue holds the structure for the issues collection in mongo.
// UpvotesCount and CommentsCount are denormalized counters kept in step by
// the handlers and reconciled nightly.
type Issue struct {
	ID              primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Title           string             `json:"title" bson:"title"`
	Description     string             `json:"description" bson:"description"`
	Category        string             `json:"category" bson:"category"`
	Status          string             `json:"status" bson:"status"`
	Images          []string           `json:"images" bson:"images"`
	Location        GeoPoint           `json:"location" bson:"location"`
	State           string             `json:"state" bson:"state"`
	District        string             `json:"district" bson:"district"`
	CreatedBy       primitive.ObjectID `json:"createdBy" bson:"createdBy"`
	UpvotesCount    int64              `json:"upvotesCount" bson:"upvotesCount"`
	CommentsCount   int64              `json:"commentsCount" bson:"commentsCount"`
	StatusTimeline  []TimelineEntry    `json:"statusTimeline" bson:"statusTimeline"`
	ResolutionProof *ResolutionProof   `json:"resolutionProof,omitempty" bson:"resolutionProof,omitempty"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// IssuePin is the projection used for map rendering
type IssuePin struct {
	ID       primitive.ObjectID `json:"_id" bson:"_id"`
	Title    string             `json:"title" bson:"title"`
	Category string             `json:"category" bson:"category"`
	Status   string             `json:"status" bson:"status"`
	Location GeoPoint           `json:"location" bson:"location"`
}

// UserRef is the compact user shape embedded in populated responses
type UserRef struct {
	ID     primitive.ObjectID `json:"_id"`
	Name   string             `json:"name"`
	Avatar string             `json:"avatar,omitempty"`
}

// IssueView is a listing row: the issue, its creator, and whether the
// caller has upvoted it
type IssueView struct {
	Issue
	Creator      *UserRef `json:"creator,omitempty"`
	UserHasVoted bool     `json:"userHasVoted"`
}

// TimelineEntryView is a timeline entry with the actor's name resolved
type TimelineEntryView struct {
	TimelineEntry
	UpdatedByName string `json:"updatedByName,omitempty"`
}

// IssueDetailView is the fully populated single-issue payload. Its
// StatusTimeline shadows the embedded issue's with name-resolved entries.
type IssueDetailView struct {
	Issue
	Creator        *UserRef            `json:"creator,omitempty"`
	StatusTimeline []TimelineEntryView `json:"statusTimeline"`
	ResolvedByName string              `json:"resolvedByName,omitempty"`
	UserHasVoted   bool                `json:"userHasVoted"`
}

// IssueListResponse is the pagination envelope for issue listings
type IssueListResponse struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Total   int64       `json:"total"`
	Page    int64       `json:"page"`
	Pages   int64       `json:"pages"`
	Data    []IssueView `json:"data"`
}

// IssueResponse is the envelope for single-object responses
type IssueResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
