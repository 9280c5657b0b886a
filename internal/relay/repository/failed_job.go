package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"relay_bot/internal/relay/models"
)

// MongoFailedJobRepository 失败任务归档的 MongoDB 实现
// 归档不设 TTL：终态失败需要运维介入，由人工重放后清理
type MongoFailedJobRepository struct {
	collection *mongo.Collection
}

// NewMongoFailedJobRepository 创建失败任务归档仓储实例
func NewMongoFailedJobRepository(db *mongo.Database) *MongoFailedJobRepository {
	return &MongoFailedJobRepository{
		collection: db.Collection("failed_jobs"),
	}
}

// Archive 归档一个重试耗尽的任务
func (r *MongoFailedJobRepository) Archive(ctx context.Context, job *models.FailedJob) error {
	_, err := r.collection.InsertOne(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.JobID, err)
	}
	return nil
}

// ListRecent 按失败时间倒序列出最近的归档任务
func (r *MongoFailedJobRepository) ListRecent(ctx context.Context, limit int64) ([]*models.FailedJob, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.FailedJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode failed jobs: %w", err)
	}
	return jobs, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoFailedJobRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "job_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "failed_at", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for failed_jobs: %w", err)
	}
	return nil
}
