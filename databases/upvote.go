package databases

// go generate: mockery --name UpvoteDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nagarsathi/civic-issues-api/models"
)

const upvoteName = "upvotes"

// UpvoteDatabase contains the methods to use with the upvote database
type UpvoteDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Upvote, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	DeleteOne(context.Context, interface{}, ...*options.DeleteOptions) error
	DeleteMany(context.Context, interface{}, ...*options.DeleteOptions) error
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
	Aggregate(context.Context, interface{}, ...*options.AggregateOptions) ([]bson.M, error)
	EnsureIndexes(context.Context) error
}

type upvoteDatabase struct {
	db DatabaseHelper
}

// NewUpvoteDatabase initializes a new instance of upvote database with the provided db connection
func NewUpvoteDatabase(db DatabaseHelper) UpvoteDatabase {
	return &upvoteDatabase{
		db: db,
	}
}

func (u *upvoteDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Upvote, error) {
	upvote := &models.Upvote{}
	err := u.db.Collection(upvoteName).FindOne(ctx, filter, opts...).Decode(&upvote)
	if err != nil {
		return nil, err
	}
	return upvote, nil
}

func (u *upvoteDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := u.db.Collection(upvoteName).InsertOne(ctx, document, opts...)
	return res, err
}

func (u *upvoteDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return u.db.Collection(upvoteName).DeleteOne(ctx, filter, opts...)
}

func (u *upvoteDatabase) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return u.db.Collection(upvoteName).DeleteMany(ctx, filter, opts...)
}

func (u *upvoteDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return u.db.Collection(upvoteName).CountDocuments(ctx, filter, opts...)
}

func (u *upvoteDatabase) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) ([]bson.M, error) {
	var results []bson.M
	cur, err := u.db.Collection(upvoteName).Aggregate(ctx, pipeline, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EnsureIndexes creates the unique (issue, user) pair index; the toggle
// endpoint relies on it to keep one vote per user per issue
func (u *upvoteDatabase) EnsureIndexes(ctx context.Context) error {
	_, err := u.db.Collection(upvoteName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "issue", Value: 1}, {Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
