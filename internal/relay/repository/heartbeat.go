package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"relay_bot/internal/relay/models"
)

// MongoHeartbeatRepository Heartbeat 的 MongoDB 实现
type MongoHeartbeatRepository struct {
	collection *mongo.Collection
}

// NewMongoHeartbeatRepository 创建心跳仓储实例
func NewMongoHeartbeatRepository(db *mongo.Database) *MongoHeartbeatRepository {
	return &MongoHeartbeatRepository{
		collection: db.Collection("heartbeats"),
	}
}

// Beat 上报心跳（按 role upsert，刷新 pid 和 last_seen）
func (r *MongoHeartbeatRepository) Beat(ctx context.Context, role string, pid int) error {
	filter := bson.M{"role": role}
	update := bson.M{
		"$set": bson.M{
			"pid":       pid,
			"last_seen": time.Now().UTC(),
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", role, err)
	}
	return nil
}

// List 列出所有角色的最新心跳
func (r *MongoHeartbeatRepository) List(ctx context.Context) ([]*models.Heartbeat, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer cursor.Close(ctx)

	var beats []*models.Heartbeat
	if err := cursor.All(ctx, &beats); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeats: %w", err)
	}
	return beats, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoHeartbeatRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "role", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for heartbeats: %w", err)
	}
	return nil
}
