package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nagarsathi/civic-issues-api/api"
	"github.com/nagarsathi/civic-issues-api/api/handlers"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/databases/mocks"
	"github.com/nagarsathi/civic-issues-api/models"
)

func TestAdmin_UpdateStatusHandlerBadID(t *testing.T) {
	req, err := http.NewRequest("PUT", "/api/v1/admin/issues/1234/status", strings.NewReader(`{"status":"in_progress"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"issue_id": "1234"})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	ad := handlers.Admin{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateStatusHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestAdmin_UpdateStatusHandlerRejectsUnknownStatus(t *testing.T) {
	issueID := primitive.NewObjectID()
	req, err := http.NewRequest("PUT", "/api/v1/admin/issues/"+issueID.Hex()+"/status", strings.NewReader(`{"status":"closed"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"issue_id": issueID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	ad := handlers.Admin{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateStatusHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
	assert.Contains(t, rr.Body.String(), "status")
}

func TestAdmin_UpdateStatusHandlerPushesTimelineEntry(t *testing.T) {
	issueID := primitive.NewObjectID()
	admin := primitive.NewObjectID()

	req, err := http.NewRequest("PUT", "/api/v1/admin/issues/"+issueID.Hex()+"/status",
		strings.NewReader(`{"status":"in_progress","note":"crew assigned"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"issue_id": issueID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: admin, Role: models.RoleAdmin})

	db := &MockDatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Issue)
		(*arg).ID = issueID
		(*arg).Status = models.StatusInProgress
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)

	var update bson.M
	conn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		update = args.Get(2).(bson.M)
	})
	db.On("Collection", "issues").Return(conn)

	ad := handlers.Admin{IssueDB: databases.NewIssueDatabase(db), Hub: api.NewHub()}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateStatusHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v, body: %v", status, http.StatusOK, rr.Body.String())
	}

	set := update["$set"].(bson.M)
	assert.Equal(t, models.StatusInProgress, set["status"])
	entry := update["$push"].(bson.M)["statusTimeline"].(models.TimelineEntry)
	assert.Equal(t, models.StatusInProgress, entry.Status)
	assert.Equal(t, admin, entry.UpdatedBy)
	assert.Equal(t, "crew assigned", entry.Note)
}

func TestAdmin_UpdateStatusHandlerDefaultsEmptyNote(t *testing.T) {
	issueID := primitive.NewObjectID()

	req, err := http.NewRequest("PUT", "/api/v1/admin/issues/"+issueID.Hex()+"/status",
		strings.NewReader(`{"status":"resolved"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"issue_id": issueID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	db := &MockDatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Issue)
		(*arg).ID = issueID
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)

	var update bson.M
	conn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		update = args.Get(2).(bson.M)
	})
	db.On("Collection", "issues").Return(conn)

	ad := handlers.Admin{IssueDB: databases.NewIssueDatabase(db), Hub: api.NewHub()}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateStatusHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v, body: %v", status, http.StatusOK, rr.Body.String())
	}
	entry := update["$push"].(bson.M)["statusTimeline"].(models.TimelineEntry)
	assert.Equal(t, "Status changed to resolved", entry.Note)
}

func TestAdmin_ResolveIssueHandlerRejectsTooManyImages(t *testing.T) {
	issueID := primitive.NewObjectID()
	body := `{"note":"fixed","images":["a","b","c","d"]}`
	req, err := http.NewRequest("POST", "/api/v1/admin/issues/"+issueID.Hex()+"/resolve", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req = mux.SetURLVars(req, map[string]string{"issue_id": issueID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	ad := handlers.Admin{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.ResolveIssueHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestAdmin_UpdateUserRoleHandlerRejectsUnknownRole(t *testing.T) {
	userID := primitive.NewObjectID()
	req, err := http.NewRequest("PUT", "/api/v1/admin/users/"+userID.Hex()+"/role", strings.NewReader(`{"role":"superuser"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"user_id": userID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	ad := handlers.Admin{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateUserRoleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestAdmin_UpdateUserRoleHandlerReturnsUpdatedUser(t *testing.T) {
	userID := primitive.NewObjectID()

	req, err := http.NewRequest("PUT", "/api/v1/admin/users/"+userID.Hex()+"/role", strings.NewReader(`{"role":"admin"}`))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"user_id": userID.Hex()})
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).ID = userID
		(*arg).Name = "Asha"
		(*arg).Role = models.RoleAdmin
	})
	var passedOpts *options.FindOneAndUpdateOptions
	usersConn.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(singleResultHelper).
		Run(func(args mock.Arguments) {
			passedOpts = args.Get(3).(*options.FindOneAndUpdateOptions)
		})
	db.On("Collection", "users").Return(usersConn)

	ad := handlers.Admin{UserDB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UpdateUserRoleHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v, body: %v", status, http.StatusOK, rr.Body.String())
	}
	if assert.NotNil(t, passedOpts) && assert.NotNil(t, passedOpts.ReturnDocument) {
		assert.Equal(t, options.After, *passedOpts.ReturnDocument)
	}

	var body struct {
		Success bool        `json:"success"`
		Data    models.User `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	assert.True(t, body.Success)
	assert.Equal(t, models.RoleAdmin, body.Data.Role)
}

func TestAdmin_AnalyticsHandlerShapesPayload(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/admin/analytics", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	db := &MockDatabaseHelper{}
	issuesConn := &mocks.CollectionHelper{}
	usersConn := &mocks.CollectionHelper{}

	// total issues and reported-today share the same stub
	issuesConn.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(10), nil)
	usersConn.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(3), nil)

	// status breakdown, category breakdown, daily series, hotspots
	cursors := []*mocks.CursorHelper{{}, {}, {}, {}}
	cursors[0].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]bson.M)
		*arg = []bson.M{
			{"_id": "reported", "count": int32(6)},
			{"_id": "resolved", "count": int32(4)},
		}
	})
	cursors[1].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]bson.M)
		*arg = []bson.M{{"_id": "pothole", "count": int32(7)}}
	})
	cursors[2].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]bson.M)
		*arg = []bson.M{{"_id": "2026-08-30", "total": int32(3), "reported": int32(2), "in_progress": int32(0), "resolved": int32(1)}}
	})
	cursors[3].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]bson.M)
		*arg = []bson.M{{"_id": "Main Market Rd", "count": int32(3), "avgLat": 28.6, "avgLng": 77.2}}
	})

	aggCall := 0
	issuesConn.On("Aggregate", mock.Anything, mock.Anything).Return(func(context.Context, interface{}, ...*options.AggregateOptions) databases.CursorHelper {
		c := cursors[aggCall]
		aggCall++
		return c
	}, nil)

	// trending and recent issue listings
	findCursors := []*mocks.CursorHelper{{}, {}}
	findCursors[0].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Issue)
		*arg = []models.Issue{{ID: primitive.NewObjectID(), Title: "Giant pothole", UpvotesCount: 9}}
	})
	findCursors[1].On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Issue)
		*arg = []models.Issue{{ID: primitive.NewObjectID(), Title: "Broken street light"}}
	})
	findCall := 0
	issuesConn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(func(context.Context, interface{}, ...*options.FindOptions) databases.CursorHelper {
		c := findCursors[findCall]
		findCall++
		return c
	}, nil)

	db.On("Collection", "issues").Return(issuesConn)
	db.On("Collection", "users").Return(usersConn)

	ad := handlers.Admin{
		IssueDB: databases.NewIssueDatabase(db),
		UserDB:  databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.AnalyticsHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v, body: %v", status, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Overview struct {
				TotalIssues    int64   `json:"totalIssues"`
				TotalUsers     int64   `json:"totalUsers"`
				ResolutionRate float64 `json:"resolutionRate"`
				ReportedToday  int64   `json:"reportedToday"`
			} `json:"overview"`
			StatusBreakdown   map[string]int64         `json:"statusBreakdown"`
			CategoryBreakdown []map[string]interface{} `json:"categoryBreakdown"`
			IssuesOverTime    []map[string]interface{} `json:"issuesOverTime"`
			TrendingIssues    []models.Issue           `json:"trendingIssues"`
			Hotspots          []map[string]interface{} `json:"hotspots"`
			RecentIssues      []models.Issue           `json:"recentIssues"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	assert.True(t, resp.Success)
	assert.Equal(t, int64(10), resp.Data.Overview.TotalIssues)
	assert.Equal(t, int64(3), resp.Data.Overview.TotalUsers)
	assert.Equal(t, 40.0, resp.Data.Overview.ResolutionRate)
	assert.Equal(t, int64(4), resp.Data.StatusBreakdown["resolved"])
	assert.Equal(t, int64(0), resp.Data.StatusBreakdown["in_progress"])
	if assert.Len(t, resp.Data.CategoryBreakdown, 1) {
		assert.Equal(t, "pothole", resp.Data.CategoryBreakdown[0]["category"])
	}
	assert.Len(t, resp.Data.IssuesOverTime, 1)
	if assert.Len(t, resp.Data.TrendingIssues, 1) {
		assert.Equal(t, "Giant pothole", resp.Data.TrendingIssues[0].Title)
	}
	if assert.Len(t, resp.Data.Hotspots, 1) {
		assert.Equal(t, "Main Market Rd", resp.Data.Hotspots[0]["address"])
	}
	if assert.Len(t, resp.Data.RecentIssues, 1) {
		assert.Equal(t, "Broken street light", resp.Data.RecentIssues[0].Title)
	}
}

func TestAdmin_UsersHandlerPaginatesWithIssueCounts(t *testing.T) {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()

	req, err := http.NewRequest("GET", "/api/v1/admin/users?page=2&limit=2", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = authenticatedRequest(req, models.AuthUser{ID: primitive.NewObjectID(), Role: models.RoleAdmin})

	db := &MockDatabaseHelper{}
	usersConn := &mocks.CollectionHelper{}
	issuesConn := &mocks.CollectionHelper{}

	usersConn.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(5), nil)

	userCursor := &mocks.CursorHelper{}
	userCursor.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.User)
		*arg = []models.User{
			{ID: alice, Name: "Alice"},
			{ID: bob, Name: "Bob"},
		}
	})
	usersConn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(userCursor, nil)

	countCursor := &mocks.CursorHelper{}
	countCursor.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]bson.M)
		*arg = []bson.M{{"_id": alice, "count": int32(4)}}
	})
	issuesConn.On("Aggregate", mock.Anything, mock.Anything).Return(countCursor, nil)

	db.On("Collection", "users").Return(usersConn)
	db.On("Collection", "issues").Return(issuesConn)

	ad := handlers.Admin{
		IssueDB: databases.NewIssueDatabase(db),
		UserDB:  databases.NewUserDatabase(db),
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(ad.UsersHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v, body: %v", status, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Success bool                   `json:"success"`
		Count   int                    `json:"count"`
		Total   int64                  `json:"total"`
		Page    int64                  `json:"page"`
		Pages   int64                  `json:"pages"`
		Data    []models.UserWithStats `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(5), resp.Total)
	assert.Equal(t, int64(2), resp.Page)
	assert.Equal(t, int64(3), resp.Pages)
	assert.Equal(t, int64(4), resp.Data[0].IssueCount)
	assert.Equal(t, int64(0), resp.Data[1].IssueCount)
}
