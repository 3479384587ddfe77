package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
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

// MaxProofImages caps the photos attached to a resolution proof
const MaxProofImages = 3

// AnalyticsWindowDays is the default trailing window for the analytics
// aggregations
const AnalyticsWindowDays = 30

// DefaultUsersLimit is the page size for the admin user listing
const DefaultUsersLimit = 20

// Admin exported for testing purposes
type Admin struct {
	IssueDB  databases.IssueDatabase
	UserDB   databases.UserDatabase
	Uploader *Uploader
	Hub      *api.Hub
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type resolveRequest struct {
	Note   string   `json:"note"`
	Images []string `json:"images"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// AdminIssuesHandler returns the full issue listing for the dashboard,
// with the same filter grammar as the public listing
func (a Admin) AdminIssuesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	q := api.NewIssueQuery(r.URL.Query()).
		Filter().
		Search().
		Sort().
		Paginate()
	if err := q.Err(); err != nil {
		config.ErrorStatus("invalid filter", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := a.IssueDB.Find(ctx, q.FilterDoc(), q.FindOptions())
	if err != nil {
		config.ErrorStatus("failed to get issues", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Issue{}
	}
	total, err := a.IssueDB.CountDocuments(ctx, q.FilterDoc())
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}

	views := make([]models.IssueView, 0, len(dbResp))
	for _, issue := range dbResp {
		views = append(views, models.IssueView{Issue: issue})
	}
	pages := (total + q.Limit - 1) / q.Limit
	writeJSON(w, http.StatusOK, models.IssueListResponse{
		Success: true,
		Count:   len(views),
		Total:   total,
		Page:    q.Page,
		Pages:   pages,
		Data:    views,
	})
}

// UpdateStatusHandler moves an issue to a new status and appends the
// transition to the status timeline
func (a Admin) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode status body", http.StatusBadRequest, w, err)
		return
	}
	if !models.ValidStatuses[req.Status] {
		config.ErrorStatus("unknown status", http.StatusBadRequest, w,
			fmt.Errorf("status %q is not recognized", req.Status))
		return
	}

	if _, err := a.IssueDB.FindOne(ctx, bson.M{"_id": iID}); err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = fmt.Sprintf("Status changed to %s", req.Status)
	}
	now := time.Now().UTC()
	entry := models.TimelineEntry{
		Status:    req.Status,
		UpdatedAt: now,
		UpdatedBy: user.ID,
		Note:      note,
	}
	err = a.IssueDB.UpdateOne(ctx, bson.M{"_id": iID}, bson.M{
		"$set":  bson.M{"status": req.Status, "updatedAt": now},
		"$push": bson.M{"statusTimeline": entry},
	})
	if err != nil {
		config.ErrorStatus("failed to update issue status", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("issue status changed", "issue", issueID, "status", req.Status, "admin", user.ID.Hex())

	updated, err := a.IssueDB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get updated issue", http.StatusInternalServerError, w, err)
		return
	}
	a.Hub.Broadcast(api.Event{Type: "status_changed", Data: updated})

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: updated})
}

// ResolveIssueHandler closes out an issue with proof of the fix. Proof
// photos arrive as multipart files or as hosted URLs in a JSON body.
func (a Admin) ResolveIssueHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req resolveRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			config.ErrorStatus("failed to parse multipart form", http.StatusBadRequest, w, err)
			return
		}
		req.Note = r.FormValue("note")
		urls, err := a.Uploader.UploadFormImages(r.Context(), r, "images", MaxProofImages, "resolutions")
		if err != nil {
			config.ErrorStatus("failed to upload proof images", http.StatusBadRequest, w, err)
			return
		}
		req.Images = urls
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			config.ErrorStatus("failed to decode resolve body", http.StatusBadRequest, w, err)
			return
		}
	}
	if len(req.Images) > MaxProofImages {
		config.ErrorStatus("too many proof images", http.StatusBadRequest, w,
			fmt.Errorf("resolution proof may carry at most %d images", MaxProofImages))
		return
	}

	if _, err := a.IssueDB.FindOne(ctx, bson.M{"_id": iID}); err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "Issue has been resolved"
	}
	now := time.Now().UTC()
	proof := models.ResolutionProof{
		Images:     req.Images,
		Note:       note,
		ResolvedAt: now,
		ResolvedBy: user.ID,
	}
	entry := models.TimelineEntry{
		Status:    models.StatusResolved,
		UpdatedAt: now,
		UpdatedBy: user.ID,
		Note:      proof.Note,
	}
	err = a.IssueDB.UpdateOne(ctx, bson.M{"_id": iID}, bson.M{
		"$set": bson.M{
			"status":          models.StatusResolved,
			"resolutionProof": proof,
			"updatedAt":       now,
		},
		"$push": bson.M{"statusTimeline": entry},
	})
	if err != nil {
		config.ErrorStatus("failed to resolve issue", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("issue resolved", "issue", issueID, "admin", user.ID.Hex())

	updated, err := a.IssueDB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get resolved issue", http.StatusInternalServerError, w, err)
		return
	}
	a.Hub.Broadcast(api.Event{Type: "issue_resolved", Data: updated})

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: updated})
}

// AnalyticsHandler recomputes the dashboard numbers on every request: an
// overview block (totals, resolution rate, today's reports), status and
// category breakdowns, a per-day series with per-status sub-counts, the
// top upvoted issues inside the window, hotspot addresses, and the five
// newest issues
func (a Admin) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	days := int(parseWindowDays(r.URL.Query().Get("days")))
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)

	totalIssues, err := a.IssueDB.CountDocuments(ctx, bson.M{})
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}
	totalUsers, err := a.UserDB.CountDocuments(ctx, bson.M{})
	if err != nil {
		config.ErrorStatus("failed to count users", http.StatusInternalServerError, w, err)
		return
	}
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	reportedToday, err := a.IssueDB.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": startOfToday}})
	if err != nil {
		config.ErrorStatus("failed to count today's issues", http.StatusInternalServerError, w, err)
		return
	}

	statusBreakdown, err := a.statusBreakdown(ctx)
	if err != nil {
		config.ErrorStatus("failed to build status breakdown", http.StatusInternalServerError, w, err)
		return
	}
	categoryBreakdown, err := a.categoryBreakdown(ctx)
	if err != nil {
		config.ErrorStatus("failed to build category breakdown", http.StatusInternalServerError, w, err)
		return
	}
	issuesOverTime, err := a.issuesOverTime(ctx, since)
	if err != nil {
		config.ErrorStatus("failed to build daily series", http.StatusInternalServerError, w, err)
		return
	}
	hotspots, err := a.hotspots(ctx)
	if err != nil {
		config.ErrorStatus("failed to build hotspots", http.StatusInternalServerError, w, err)
		return
	}

	trendingLimit := int64(10)
	trending, err := a.IssueDB.Find(ctx, bson.M{"createdAt": bson.M{"$gte": since}},
		options.Find().
			SetSort(bson.D{{Key: "upvotesCount", Value: -1}}).
			SetLimit(trendingLimit).
			SetProjection(bson.M{"title": 1, "category": 1, "status": 1, "upvotesCount": 1, "commentsCount": 1, "createdAt": 1}))
	if err != nil {
		config.ErrorStatus("failed to get trending issues", http.StatusInternalServerError, w, err)
		return
	}
	recentLimit := int64(5)
	recent, err := a.IssueDB.Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetLimit(recentLimit).
			SetProjection(bson.M{"title": 1, "category": 1, "status": 1, "createdAt": 1}))
	if err != nil {
		config.ErrorStatus("failed to get recent issues", http.StatusInternalServerError, w, err)
		return
	}

	rate := 0.0
	if totalIssues > 0 {
		rate = math.Round(float64(statusBreakdown[models.StatusResolved])/float64(totalIssues)*1000) / 10
	}

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: bson.M{
		"overview": bson.M{
			"totalIssues":    totalIssues,
			"totalUsers":     totalUsers,
			"resolutionRate": rate,
			"reportedToday":  reportedToday,
		},
		"statusBreakdown":   statusBreakdown,
		"categoryBreakdown": categoryBreakdown,
		"issuesOverTime":    issuesOverTime,
		"trendingIssues":    trending,
		"hotspots":          hotspots,
		"recentIssues":      recent,
	}})
}

func (a Admin) statusBreakdown(ctx context.Context) (map[string]int64, error) {
	rows, err := a.IssueDB.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, err
	}
	breakdown := map[string]int64{
		models.StatusReported:   0,
		models.StatusInProgress: 0,
		models.StatusResolved:   0,
	}
	for _, row := range rows {
		if status, ok := row["_id"].(string); ok && status != "" {
			breakdown[status] = toInt64(row["count"])
		}
	}
	return breakdown, nil
}

func (a Admin) categoryBreakdown(ctx context.Context) ([]bson.M, error) {
	rows, err := a.IssueDB.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$category", "count": bson.M{"$sum": 1}}},
		{"$sort": bson.M{"count": -1}},
	})
	if err != nil {
		return nil, err
	}
	breakdown := make([]bson.M, 0, len(rows))
	for _, row := range rows {
		category, ok := row["_id"].(string)
		if !ok || category == "" {
			continue
		}
		breakdown = append(breakdown, bson.M{
			"category": category,
			"count":    toInt64(row["count"]),
		})
	}
	return breakdown, nil
}

func (a Admin) issuesOverTime(ctx context.Context, since time.Time) ([]bson.M, error) {
	rows, err := a.IssueDB.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"createdAt": bson.M{"$gte": since}}},
		{"$group": bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$createdAt"}},
			"total": bson.M{"$sum": 1},
			models.StatusReported: bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", models.StatusReported}}, 1, 0},
			}},
			models.StatusInProgress: bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", models.StatusInProgress}}, 1, 0},
			}},
			models.StatusResolved: bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", models.StatusResolved}}, 1, 0},
			}},
		}},
		{"$sort": bson.M{"_id": 1}},
	})
	if err != nil {
		return nil, err
	}
	series := make([]bson.M, 0, len(rows))
	for _, row := range rows {
		series = append(series, bson.M{
			"date":                  row["_id"],
			"total":                 toInt64(row["total"]),
			models.StatusReported:   toInt64(row[models.StatusReported]),
			models.StatusInProgress: toInt64(row[models.StatusInProgress]),
			models.StatusResolved:   toInt64(row[models.StatusResolved]),
		})
	}
	return series, nil
}

func (a Admin) hotspots(ctx context.Context) ([]bson.M, error) {
	rows, err := a.IssueDB.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"location.address": bson.M{"$exists": true, "$ne": ""}}},
		{"$group": bson.M{
			"_id":    "$location.address",
			"count":  bson.M{"$sum": 1},
			"avgLng": bson.M{"$avg": bson.M{"$arrayElemAt": bson.A{"$location.coordinates", 0}}},
			"avgLat": bson.M{"$avg": bson.M{"$arrayElemAt": bson.A{"$location.coordinates", 1}}},
		}},
		{"$sort": bson.M{"count": -1}},
		{"$limit": 10},
	})
	if err != nil {
		return nil, err
	}
	hotspots := make([]bson.M, 0, len(rows))
	for _, row := range rows {
		hotspots = append(hotspots, bson.M{
			"address": row["_id"],
			"count":   toInt64(row["count"]),
			"avgLat":  row["avgLat"],
			"avgLng":  row["avgLng"],
		})
	}
	return hotspots, nil
}

func parseWindowDays(raw string) int64 {
	if raw == "" {
		return AnalyticsWindowDays
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		zap.S().Warnf("cannot use days %q, using default of %v", raw, AnalyticsWindowDays)
		return AnalyticsWindowDays
	}
	return n
}

// UsersHandler returns a paginated user listing with how many issues each
// has filed
func (a Admin) UsersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	page := int64(1)
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 1 {
			page = n
		}
	}
	limit := int64(DefaultUsersLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 1 {
			limit = n
		}
	}
	skip := (page - 1) * limit

	total, err := a.UserDB.CountDocuments(ctx, bson.M{})
	if err != nil {
		config.ErrorStatus("failed to count users", http.StatusInternalServerError, w, err)
		return
	}
	users, err := a.UserDB.Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip(skip).
			SetLimit(limit))
	if err != nil {
		config.ErrorStatus("failed to get users", http.StatusNotFound, w, err)
		return
	}

	rows, err := a.IssueDB.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$createdBy", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		config.ErrorStatus("failed to count user issues", http.StatusInternalServerError, w, err)
		return
	}
	counts := map[primitive.ObjectID]int64{}
	for _, row := range rows {
		if id, ok := row["_id"].(primitive.ObjectID); ok {
			counts[id] = toInt64(row["count"])
		}
	}

	out := make([]models.UserWithStats, 0, len(users))
	for _, u := range users {
		out = append(out, models.UserWithStats{User: u, IssueCount: counts[u.ID]})
	}
	pages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, bson.M{
		"success": true,
		"count":   len(out),
		"total":   total,
		"page":    page,
		"pages":   pages,
		"data":    out,
	})
}

// UpdateUserRoleHandler promotes or demotes a user between the two roles
func (a Admin) UpdateUserRoleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	userID := mux.Vars(r)["user_id"]

	uID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode role body", http.StatusBadRequest, w, err)
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		config.ErrorStatus("unknown role", http.StatusBadRequest, w,
			fmt.Errorf("role %q is not recognized", req.Role))
		return
	}

	updated, err := a.UserDB.FindOneAndUpdate(ctx, bson.M{"_id": uID},
		bson.M{"$set": bson.M{"role": req.Role, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	if err != nil {
		config.ErrorStatus("failed to update user role", http.StatusNotFound, w, err)
		return
	}
	zap.S().Infow("user role changed", "user", userID, "role", req.Role)

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: updated})
}
