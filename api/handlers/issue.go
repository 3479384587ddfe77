package handlers

import (
	"context"
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

// MaxIssueImages caps how many photos can be attached to one issue
const MaxIssueImages = 5

// MaxMapPins caps the size of a single map payload
const MaxMapPins = 500

// Issue exported for testing purposes
type Issue struct {
	DB        databases.IssueDatabase
	UserDB    databases.UserDatabase
	CommentDB databases.CommentDatabase
	UpvoteDB  databases.UpvoteDatabase
	Hub       *api.Hub
	Uploader  *Uploader
}

type issueRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Address     string   `json:"address"`
	State       string   `json:"state"`
	District    string   `json:"district"`
	Images      []string `json:"images"`
}

// CreateIssueHandler files a new issue for the authenticated user. Accepts
// either a JSON body with hosted image URLs or multipart form data with
// image files, which are pushed to the media CDN first.
func (i Issue) CreateIssueHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, ok := api.UserFromContext(ctx)
	if !ok {
		config.ErrorStatus("unauthorized", http.StatusUnauthorized, w, fmt.Errorf("no user on request"))
		return
	}

	req, err := i.decodeIssueRequest(r)
	if err != nil {
		config.ErrorStatus("failed to read issue request", http.StatusBadRequest, w, err)
		return
	}
	if err := validateIssueRequest(req); err != nil {
		config.ErrorStatus(err.Error(), http.StatusBadRequest, w, err)
		return
	}

	now := time.Now().UTC()
	issue := &models.Issue{
		ID:          primitive.NewObjectID(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Status:      models.StatusReported,
		Images:      req.Images,
		Location: models.GeoPoint{
			Type:        "Point",
			Coordinates: []float64{*req.Lng, *req.Lat},
			Address:     strings.TrimSpace(req.Address),
		},
		State:     strings.ToLower(strings.TrimSpace(req.State)),
		District:  strings.ToLower(strings.TrimSpace(req.District)),
		CreatedBy: user.ID,
		StatusTimeline: []models.TimelineEntry{
			{Status: models.StatusReported, UpdatedAt: now, UpdatedBy: user.ID, Note: "Issue reported"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := i.DB.InsertOne(ctx, issue); err != nil {
		config.ErrorStatus("failed to create issue", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("issue created", "issue", issue.ID.Hex(), "user", user.ID.Hex())
	i.Hub.Broadcast(api.Event{Type: "issue_created", Data: issue})

	writeJSON(w, http.StatusCreated, models.IssueResponse{Success: true, Message: "issue reported", Data: issue})
}

// IssueListHandler returns a filtered, searched, optionally geo-bounded,
// sorted and paginated issue listing
func (i Issue) IssueListHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	q := api.NewIssueQuery(r.URL.Query()).
		Filter().
		Search().
		NearLocation().
		Sort().
		Paginate()
	if err := q.Err(); err != nil {
		config.ErrorStatus("invalid filter", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := i.DB.Find(ctx, q.FilterDoc(), q.FindOptions())
	if err != nil {
		config.ErrorStatus("failed to get issues", http.StatusNotFound, w, err)
		return
	}
	total, err := i.DB.CountDocuments(ctx, q.FilterDoc())
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}

	views, err := i.buildViews(ctx, dbResp)
	if err != nil {
		config.ErrorStatus("failed to build issue listing", http.StatusInternalServerError, w, err)
		return
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

// IssueByIDHandler returns one issue with its creator, a name-resolved
// status timeline, and the caller's vote state when authenticated
func (i Issue) IssueByIDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	issue, err := i.DB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	detail, err := i.buildDetailView(ctx, issue)
	if err != nil {
		config.ErrorStatus("failed to build issue detail", http.StatusInternalServerError, w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: detail})
}

// UpdateIssueHandler lets the issue owner amend title, description,
// category and append images while the issue is still open to edits
func (i Issue) UpdateIssueHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	issue, err := i.DB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}
	if issue.CreatedBy != user.ID {
		config.ErrorStatus("only the reporter can edit this issue", http.StatusForbidden, w,
			fmt.Errorf("user %s is not the creator of issue %s", user.ID.Hex(), issueID))
		return
	}

	req, err := i.decodeIssueRequest(r)
	if err != nil {
		config.ErrorStatus("failed to read issue request", http.StatusBadRequest, w, err)
		return
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if t := strings.TrimSpace(req.Title); t != "" {
		set["title"] = t
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		set["description"] = d
	}
	if req.Category != "" {
		if !models.ValidCategories[req.Category] {
			config.ErrorStatus("unknown category", http.StatusBadRequest, w,
				fmt.Errorf("category %q is not recognized", req.Category))
			return
		}
		set["category"] = req.Category
	}
	if len(req.Images) > 0 {
		images := append(issue.Images, req.Images...)
		// cap enforced by truncation, keeping the earliest uploads
		if len(images) > MaxIssueImages {
			images = images[:MaxIssueImages]
		}
		set["images"] = images
	}

	if err := i.DB.UpdateOne(ctx, bson.M{"_id": iID}, bson.M{"$set": set}); err != nil {
		config.ErrorStatus("failed to update issue", http.StatusInternalServerError, w, err)
		return
	}

	updated, err := i.DB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get updated issue", http.StatusInternalServerError, w, err)
		return
	}
	i.Hub.Broadcast(api.Event{Type: "issue_updated", Data: updated})

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Message: "issue updated", Data: updated})
}

// DeleteIssueHandler removes an issue and everything hanging off it.
// Comments go first, then upvotes, then the issue itself, so a failure
// partway never leaves an orphaned child pointing at a missing issue.
func (i Issue) DeleteIssueHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)
	issueID := mux.Vars(r)["issue_id"]

	iID, err := primitive.ObjectIDFromHex(issueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	issue, err := i.DB.FindOne(ctx, bson.M{"_id": iID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}
	if issue.CreatedBy != user.ID && !user.IsAdmin() {
		config.ErrorStatus("only the reporter or an admin can delete this issue", http.StatusForbidden, w,
			fmt.Errorf("user %s may not delete issue %s", user.ID.Hex(), issueID))
		return
	}

	if err := i.CommentDB.DeleteMany(ctx, bson.M{"issue": iID}); err != nil {
		config.ErrorStatus("failed to delete issue comments", http.StatusInternalServerError, w, err)
		return
	}
	if err := i.UpvoteDB.DeleteMany(ctx, bson.M{"issue": iID}); err != nil {
		config.ErrorStatus("failed to delete issue upvotes", http.StatusInternalServerError, w, err)
		return
	}
	if err := i.DB.DeleteOne(ctx, bson.M{"_id": iID}); err != nil {
		config.ErrorStatus("failed to delete issue", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("issue deleted", "issue", issueID, "user", user.ID.Hex())
	i.Hub.Broadcast(api.Event{Type: "issue_deleted", Data: bson.M{"_id": issueID}})

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Message: "issue deleted"})
}

// MyIssuesHandler returns the authenticated user's own issues, newest
// first, with the standard pagination envelope
func (i Issue) MyIssuesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, _ := api.UserFromContext(ctx)

	q := api.NewIssueQuery(r.URL.Query()).Filter().Sort().Paginate()
	if err := q.Err(); err != nil {
		config.ErrorStatus("invalid filter", http.StatusBadRequest, w, err)
		return
	}
	filter := q.FilterDoc()
	filter["createdBy"] = user.ID

	dbResp, err := i.DB.Find(ctx, filter, q.FindOptions())
	if err != nil {
		config.ErrorStatus("failed to get issues", http.StatusNotFound, w, err)
		return
	}
	total, err := i.DB.CountDocuments(ctx, filter)
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}

	views, err := i.buildViews(ctx, dbResp)
	if err != nil {
		config.ErrorStatus("failed to build issue listing", http.StatusInternalServerError, w, err)
		return
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

// IssueMapHandler returns lightweight pins for map rendering, bounded to
// keep the payload sane for dense areas
func (i Issue) IssueMapHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	q := api.NewIssueQuery(r.URL.Query()).
		Filter().
		NearLocation()
	if err := q.Err(); err != nil {
		config.ErrorStatus("invalid filter", http.StatusBadRequest, w, err)
		return
	}

	limit := int64(MaxMapPins)
	pins, err := i.DB.FindPins(ctx, q.FilterDoc(), &options.FindOptions{Limit: &limit})
	if err != nil {
		config.ErrorStatus("failed to get map pins", http.StatusNotFound, w, err)
		return
	}
	if len(pins) == 0 {
		pins = []models.IssuePin{}
	}

	writeJSON(w, http.StatusOK, bson.M{
		"success": true,
		"count":   len(pins),
		"data":    pins,
	})
}

// FilterCountsHandler returns issue counts grouped by state, district,
// category and status so clients can render facet counts beside each
// filter
func (i Issue) FilterCountsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	byState, err := i.groupCounts(ctx, "state")
	if err != nil {
		config.ErrorStatus("failed to count by state", http.StatusInternalServerError, w, err)
		return
	}
	byDistrict, err := i.groupCounts(ctx, "district")
	if err != nil {
		config.ErrorStatus("failed to count by district", http.StatusInternalServerError, w, err)
		return
	}
	byCategory, err := i.groupCounts(ctx, "category")
	if err != nil {
		config.ErrorStatus("failed to count by category", http.StatusInternalServerError, w, err)
		return
	}
	byStatus, err := i.groupCounts(ctx, "status")
	if err != nil {
		config.ErrorStatus("failed to count by status", http.StatusInternalServerError, w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.IssueResponse{Success: true, Data: bson.M{
		"states":     byState,
		"districts":  byDistrict,
		"categories": byCategory,
		"statuses":   byStatus,
	}})
}

func (i Issue) groupCounts(ctx context.Context, field string) (map[string]int64, error) {
	rows, err := i.DB.Aggregate(ctx, []bson.M{
		{"$match": bson.M{field: bson.M{"$exists": true, "$ne": ""}}},
		{"$group": bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, row := range rows {
		key, _ := row["_id"].(string)
		if key == "" {
			continue
		}
		counts[key] = toInt64(row["count"])
	}
	return counts, nil
}

// decodeIssueRequest reads an issue payload from either a JSON body or a
// multipart form. Multipart image files are uploaded before the request is
// returned.
func (i Issue) decodeIssueRequest(r *http.Request) (*issueRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		req := &issueRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, fmt.Errorf("failed to decode issue body: %w", err)
		}
		if len(req.Images) > MaxIssueImages {
			return nil, fmt.Errorf("an issue may carry at most %d images", MaxIssueImages)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	req := &issueRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Address:     r.FormValue("address"),
		State:       r.FormValue("state"),
		District:    r.FormValue("district"),
	}
	if v := r.FormValue("lat"); v != "" {
		lat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("lat %q is not numeric", v)
		}
		req.Lat = &lat
	}
	if v := r.FormValue("lng"); v != "" {
		lng, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("lng %q is not numeric", v)
		}
		req.Lng = &lng
	}

	urls, err := i.Uploader.UploadFormImages(r.Context(), r, "images", MaxIssueImages, "issues")
	if err != nil {
		return nil, err
	}
	req.Images = urls
	return req, nil
}

func validateIssueRequest(req *issueRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(req.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if !models.ValidCategories[req.Category] {
		return fmt.Errorf("category %q is not recognized", req.Category)
	}
	if req.Lat == nil || req.Lng == nil {
		return fmt.Errorf("lat and lng are required")
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180 {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

// buildViews decorates raw issues with their creators and, for an
// authenticated caller, whether they have upvoted each one
func (i Issue) buildViews(ctx context.Context, issues []models.Issue) ([]models.IssueView, error) {
	creators, err := i.lookupUsers(ctx, creatorIDs(issues))
	if err != nil {
		return nil, err
	}

	voted := map[primitive.ObjectID]bool{}
	if user, ok := api.UserFromContext(ctx); ok {
		ids := make([]primitive.ObjectID, 0, len(issues))
		for _, issue := range issues {
			ids = append(ids, issue.ID)
		}
		rows, err := i.UpvoteDB.Aggregate(ctx, []bson.M{
			{"$match": bson.M{"user": user.ID, "issue": bson.M{"$in": ids}}},
		})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if id, ok := row["issue"].(primitive.ObjectID); ok {
				voted[id] = true
			}
		}
	}

	views := make([]models.IssueView, 0, len(issues))
	for _, issue := range issues {
		views = append(views, models.IssueView{
			Issue:        issue,
			Creator:      creators[issue.CreatedBy],
			UserHasVoted: voted[issue.ID],
		})
	}
	return views, nil
}

// buildDetailView resolves every user id referenced by the issue (creator,
// timeline actors, resolver) in one lookup
func (i Issue) buildDetailView(ctx context.Context, issue *models.Issue) (*models.IssueDetailView, error) {
	ids := []primitive.ObjectID{issue.CreatedBy}
	for _, entry := range issue.StatusTimeline {
		ids = append(ids, entry.UpdatedBy)
	}
	if issue.ResolutionProof != nil {
		ids = append(ids, issue.ResolutionProof.ResolvedBy)
	}
	users, err := i.lookupUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	timeline := make([]models.TimelineEntryView, 0, len(issue.StatusTimeline))
	for _, entry := range issue.StatusTimeline {
		view := models.TimelineEntryView{TimelineEntry: entry}
		if ref := users[entry.UpdatedBy]; ref != nil {
			view.UpdatedByName = ref.Name
		}
		timeline = append(timeline, view)
	}

	detail := &models.IssueDetailView{
		Issue:          *issue,
		Creator:        users[issue.CreatedBy],
		StatusTimeline: timeline,
	}
	if issue.ResolutionProof != nil {
		if ref := users[issue.ResolutionProof.ResolvedBy]; ref != nil {
			detail.ResolvedByName = ref.Name
		}
	}
	if user, ok := api.UserFromContext(ctx); ok {
		if _, err := i.UpvoteDB.FindOne(ctx, bson.M{"issue": issue.ID, "user": user.ID}); err == nil {
			detail.UserHasVoted = true
		}
	}
	return detail, nil
}

func (i Issue) lookupUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.UserRef, error) {
	unique := map[primitive.ObjectID]bool{}
	distinct := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if !unique[id] {
			unique[id] = true
			distinct = append(distinct, id)
		}
	}
	if len(distinct) == 0 {
		return map[primitive.ObjectID]*models.UserRef{}, nil
	}

	users, err := i.UserDB.Find(ctx, bson.M{"_id": bson.M{"$in": distinct}})
	if err != nil {
		return nil, err
	}
	refs := make(map[primitive.ObjectID]*models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = &models.UserRef{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
	}
	return refs, nil
}

func creatorIDs(issues []models.Issue) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.CreatedBy)
	}
	return ids
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	b, err := json.Marshal(body)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
