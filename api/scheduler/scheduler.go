// Package scheduler runs the periodic background jobs: nightly counter
// reconciliation and the weekly admin digest email.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/models"
)

// Scheduler handles periodic background jobs
type Scheduler struct {
	cron      *cron.Cron
	conf      *config.Config
	IssueDB   databases.IssueDatabase
	CommentDB databases.CommentDatabase
	UpvoteDB  databases.UpvoteDatabase
}

// New creates a new scheduler instance
func New(conf *config.Config, dbHelper databases.DatabaseHelper) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		conf:      conf,
		IssueDB:   databases.NewIssueDatabase(dbHelper),
		CommentDB: databases.NewCommentDatabase(dbHelper),
		UpvoteDB:  databases.NewUpvoteDatabase(dbHelper),
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Reconcile denormalized counters nightly at 2:30 AM UTC, after the
	// bulk of the day's traffic
	_, err := s.cron.AddFunc("30 2 * * *", s.reconcileCounts)
	if err != nil {
		zap.S().Errorw("failed to register count reconciliation job", "error", err)
	}

	// Weekly digest to the admin inbox, Monday 8 AM UTC
	_, err = s.cron.AddFunc("0 8 * * 1", s.sendAdminDigest)
	if err != nil {
		zap.S().Errorw("failed to register admin digest job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Background job scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Background job scheduler stopped")
}

// reconcileCounts recomputes upvotesCount and commentsCount from the
// source collections and repairs any issue that has drifted. Drift happens
// when a counter increment is lost after its write succeeded partially.
func (s *Scheduler) reconcileCounts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	zap.S().Info("Running counter reconciliation job")

	upvotes, err := s.countsByIssue(ctx, s.UpvoteDB.Aggregate)
	if err != nil {
		zap.S().Errorw("failed to total upvotes", "error", err)
		return
	}
	comments, err := s.countsByIssue(ctx, s.CommentDB.Aggregate)
	if err != nil {
		zap.S().Errorw("failed to total comments", "error", err)
		return
	}

	issues, err := s.IssueDB.Find(ctx, bson.M{})
	if err != nil {
		zap.S().Errorw("failed to list issues for reconciliation", "error", err)
		return
	}

	repaired := 0
	for _, issue := range issues {
		wantUpvotes := upvotes[issue.ID]
		wantComments := comments[issue.ID]
		if issue.UpvotesCount == wantUpvotes && issue.CommentsCount == wantComments {
			continue
		}
		err := s.IssueDB.UpdateOne(ctx, bson.M{"_id": issue.ID}, bson.M{
			"$set": bson.M{"upvotesCount": wantUpvotes, "commentsCount": wantComments},
		})
		if err != nil {
			zap.S().Errorw("failed to repair counters", "issue", issue.ID.Hex(), "error", err)
			continue
		}
		repaired++
	}

	zap.S().Infow("Counter reconciliation complete",
		"issuesChecked", len(issues),
		"issuesRepaired", repaired,
	)
}

func (s *Scheduler) countsByIssue(ctx context.Context, aggregate func(context.Context, interface{}, ...*options.AggregateOptions) ([]bson.M, error)) (map[primitive.ObjectID]int64, error) {
	rows, err := aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$issue", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[primitive.ObjectID]int64, len(rows))
	for _, row := range rows {
		id, ok := row["_id"].(primitive.ObjectID)
		if !ok {
			continue
		}
		switch n := row["count"].(type) {
		case int32:
			counts[id] = int64(n)
		case int64:
			counts[id] = n
		}
	}
	return counts, nil
}

// sendAdminDigest mails the week's headline numbers to the admin inbox
func (s *Scheduler) sendAdminDigest() {
	if s.conf.SendgridAPIKey == "" || s.conf.AdminDigestEmail == "" {
		zap.S().Debug("admin digest not configured, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	reported, err := s.IssueDB.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": weekAgo}})
	if err != nil {
		zap.S().Errorw("failed to count weekly reports", "error", err)
		return
	}
	resolved, err := s.IssueDB.CountDocuments(ctx, bson.M{
		"status":    models.StatusResolved,
		"updatedAt": bson.M{"$gte": weekAgo},
	})
	if err != nil {
		zap.S().Errorw("failed to count weekly resolutions", "error", err)
		return
	}
	open, err := s.IssueDB.CountDocuments(ctx, bson.M{"status": bson.M{"$ne": models.StatusResolved}})
	if err != nil {
		zap.S().Errorw("failed to count open issues", "error", err)
		return
	}

	subject := "Weekly Civic Issues Digest"
	body := fmt.Sprintf(
		"This week: %d new issues reported, %d issues resolved. %d issues remain open.",
		reported, resolved, open,
	)
	htmlContent := fmt.Sprintf(
		"<p>This week: <strong>%d</strong> new issues reported, <strong>%d</strong> issues resolved.</p><p><strong>%d</strong> issues remain open.</p>",
		reported, resolved, open,
	)

	from := mail.NewEmail("Civic Issues", "no-reply@nagarsathi.in")
	to := mail.NewEmail("Admin", s.conf.AdminDigestEmail)
	message := mail.NewSingleEmail(from, subject, to, body, htmlContent)
	client := sendgrid.NewSendClient(s.conf.SendgridAPIKey)
	response, err := client.Send(message)
	if err != nil {
		zap.S().Errorw("failed to send admin digest", "error", err)
		return
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return
	}
	zap.S().Infow("Sent weekly admin digest", "reported", reported, "resolved", resolved)
}
