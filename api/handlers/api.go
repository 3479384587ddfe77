package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/api"
	"github.com/nagarsathi/civic-issues-api/api/scheduler"
	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/identity"
	"github.com/nagarsathi/civic-issues-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	dbHelper databases.DatabaseHelper
	auth     *api.Auth
	hub      *api.Hub
	redis    *redis.Client
	cron     *scheduler.Scheduler
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	r := mux.NewRouter()

	uploader := NewUploader(&a.Config)
	i := Issue{
		DB:        databases.NewIssueDatabase(a.dbHelper),
		UserDB:    databases.NewUserDatabase(a.dbHelper),
		CommentDB: databases.NewCommentDatabase(a.dbHelper),
		UpvoteDB:  databases.NewUpvoteDatabase(a.dbHelper),
		Hub:       a.hub,
		Uploader:  uploader,
	}
	cm := Comment{
		DB:      databases.NewCommentDatabase(a.dbHelper),
		IssueDB: databases.NewIssueDatabase(a.dbHelper),
		UserDB:  databases.NewUserDatabase(a.dbHelper),
	}
	uv := Upvote{
		DB:      databases.NewUpvoteDatabase(a.dbHelper),
		IssueDB: databases.NewIssueDatabase(a.dbHelper),
		Hub:     a.hub,
	}
	ad := Admin{
		IssueDB:  databases.NewIssueDatabase(a.dbHelper),
		UserDB:   databases.NewUserDatabase(a.dbHelper),
		Uploader: uploader,
		Hub:      a.hub,
	}
	g := NewGeocode(&a.Config)
	cloudinaryHandler := CloudinaryHandler{Config: a.Config}
	live := Live{Hub: a.hub}
	limiter := api.NewIssueRateLimiter(a.redis)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	// static routes must be registered before the {issue_id} routes
	apiCreate.Handle("/issues/user/my-issues", a.auth.Middleware(http.HandlerFunc(i.MyIssuesHandler))).Methods("GET")
	apiCreate.Handle("/issues/map", http.HandlerFunc(i.IssueMapHandler)).Methods("GET")
	apiCreate.Handle("/issues/filter-counts", http.HandlerFunc(i.FilterCountsHandler)).Methods("GET")
	apiCreate.Handle("/issues/live", http.HandlerFunc(live.ServeHandler)).Methods("GET")

	apiCreate.Handle("/issues", a.auth.OptionalMiddleware(http.HandlerFunc(i.IssueListHandler))).Methods("GET")
	apiCreate.Handle("/issues", a.auth.Middleware(limiter.Middleware(http.HandlerFunc(i.CreateIssueHandler)))).Methods("POST")
	apiCreate.Handle("/issues/{issue_id}", a.auth.OptionalMiddleware(http.HandlerFunc(i.IssueByIDHandler))).Methods("GET")
	apiCreate.Handle("/issues/{issue_id}", a.auth.Middleware(http.HandlerFunc(i.UpdateIssueHandler))).Methods("PUT")
	apiCreate.Handle("/issues/{issue_id}", a.auth.Middleware(http.HandlerFunc(i.DeleteIssueHandler))).Methods("DELETE")

	apiCreate.Handle("/issues/{issue_id}/comments", http.HandlerFunc(cm.CommentsByIssueIDHandler)).Methods("GET")
	apiCreate.Handle("/issues/{issue_id}/comments", a.auth.Middleware(http.HandlerFunc(cm.CreateCommentHandler))).Methods("POST")
	apiCreate.Handle("/issues/{issue_id}/comments/{comment_id}", a.auth.Middleware(http.HandlerFunc(cm.UpdateCommentHandler))).Methods("PUT")
	apiCreate.Handle("/issues/{issue_id}/comments/{comment_id}", a.auth.Middleware(http.HandlerFunc(cm.DeleteCommentHandler))).Methods("DELETE")

	apiCreate.Handle("/issues/{issue_id}/upvote", a.auth.Middleware(http.HandlerFunc(uv.ToggleUpvoteHandler))).Methods("POST")

	apiCreate.Handle("/geocode/search", http.HandlerFunc(g.SearchHandler)).Methods("GET")
	apiCreate.Handle("/geocode/reverse", http.HandlerFunc(g.ReverseHandler)).Methods("GET")

	apiCreate.Handle("/uploads/signature", a.auth.Middleware(http.HandlerFunc(cloudinaryHandler.GenerateSignature))).Methods("POST")

	admin := apiCreate.PathPrefix("/admin").Subrouter()
	admin.Use(a.auth.Middleware, api.RequireAdmin)
	admin.Handle("/issues", http.HandlerFunc(ad.AdminIssuesHandler)).Methods("GET")
	admin.Handle("/issues/{issue_id}/status", http.HandlerFunc(ad.UpdateStatusHandler)).Methods("PUT")
	admin.Handle("/issues/{issue_id}/resolve", http.HandlerFunc(ad.ResolveIssueHandler)).Methods("POST")
	admin.Handle("/analytics", http.HandlerFunc(ad.AnalyticsHandler)).Methods("GET")
	admin.Handle("/users", http.HandlerFunc(ad.UsersHandler)).Methods("GET")
	admin.Handle("/users/{user_id}/role", http.HandlerFunc(ad.UpdateUserRoleHandler)).Methods("PUT")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("civic-issues-api has connected to the database")

	ctx, cancel := context.WithTimeout(context.Background(), api.QueryTimeout)
	defer cancel()
	if err := databases.NewIssueDatabase(a.dbHelper).EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := databases.NewUserDatabase(a.dbHelper).EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := databases.NewUpvoteDatabase(a.dbHelper).EnsureIndexes(ctx); err != nil {
		return err
	}

	a.auth = &api.Auth{
		Users:    databases.NewUserDatabase(a.dbHelper),
		Identity: identity.New(a.Config.ClerkSecretKey, nil),
	}
	if err := a.auth.Setup(&a.Config); err != nil {
		zap.S().With(err).Error("failed to set up authentication")
		return err
	}

	if a.Config.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
		})
	} else {
		zap.S().Warn("no redis configured, issue rate limiting disabled")
	}

	a.hub = api.NewHub()

	a.cron = scheduler.New(&a.Config, a.dbHelper)
	a.cron.Start()

	// initialize api router
	a.initializeRoutes()
	return nil
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
