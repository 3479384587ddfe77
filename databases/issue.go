package databases

// go generate: mockery --name IssueDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nagarsathi/civic-issues-api/models"
)

const issueName = "issues"

// IssueDatabase contains the methods to use with the issue database
type IssueDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Issue, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Issue, error)
	FindPins(context.Context, interface{}, ...*options.FindOptions) ([]models.IssuePin, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) error
	DeleteOne(context.Context, interface{}, ...*options.DeleteOptions) error
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
	Aggregate(context.Context, interface{}, ...*options.AggregateOptions) ([]bson.M, error)
	EnsureIndexes(context.Context) error
}

type issueDatabase struct {
	db DatabaseHelper
}

// NewIssueDatabase initializes a new instance of issue database with the provided db connection
func NewIssueDatabase(db DatabaseHelper) IssueDatabase {
	return &issueDatabase{
		db: db,
	}
}

func (i *issueDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Issue, error) {
	issue := &models.Issue{}
	err := i.db.Collection(issueName).FindOne(ctx, filter, opts...).Decode(&issue)
	if err != nil {
		return nil, err
	}
	return issue, nil
}

func (i *issueDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Issue, error) {
	var issues []models.Issue
	cur, err := i.db.Collection(issueName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&issues)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (i *issueDatabase) FindPins(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.IssuePin, error) {
	var pins []models.IssuePin
	cur, err := i.db.Collection(issueName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&pins)
	if err != nil {
		return nil, err
	}
	return pins, nil
}

func (i *issueDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := i.db.Collection(issueName).InsertOne(ctx, document, opts...)
	return res, err
}

func (i *issueDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) error {
	return i.db.Collection(issueName).UpdateOne(ctx, filter, update, opts...)
}

func (i *issueDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return i.db.Collection(issueName).DeleteOne(ctx, filter, opts...)
}

func (i *issueDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return i.db.Collection(issueName).CountDocuments(ctx, filter, opts...)
}

func (i *issueDatabase) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) ([]bson.M, error) {
	var results []bson.M
	cur, err := i.db.Collection(issueName).Aggregate(ctx, pipeline, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EnsureIndexes creates the 2dsphere index backing geo radius queries and the
// secondary lookup indexes used by the list filters
func (i *issueDatabase) EnsureIndexes(ctx context.Context) error {
	indexes := i.db.Collection(issueName).Indexes()
	if _, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "location", Value: "2dsphere"}},
	}); err != nil {
		return err
	}
	if _, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdBy", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "district", Value: 1}},
	})
	return err
}
