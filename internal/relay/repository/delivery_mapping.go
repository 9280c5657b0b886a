package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"relay_bot/internal/relay/models"
)

// MongoDeliveryMappingRepository DeliveryMapping 的 MongoDB 实现
type MongoDeliveryMappingRepository struct {
	collection *mongo.Collection
}

// NewMongoDeliveryMappingRepository 创建投递映射仓储实例
func NewMongoDeliveryMappingRepository(db *mongo.Database) *MongoDeliveryMappingRepository {
	return &MongoDeliveryMappingRepository{
		collection: db.Collection("delivery_mappings"),
	}
}

// Upsert 写入或更新映射
// 以 (kind, source_channel_id, source_ts) 为键，重复写入只刷新目标坐标
func (r *MongoDeliveryMappingRepository) Upsert(ctx context.Context, m *models.DeliveryMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	filter := bson.M{
		"kind":              m.Kind,
		"source_channel_id": m.SourceChannelID,
		"source_ts":         m.SourceTS,
	}
	update := bson.M{
		"$set": bson.M{
			"target_channel_id": m.TargetChannelID,
			"target_ts":         m.TargetTS,
		},
		"$setOnInsert": bson.M{
			"created_at": m.CreatedAt,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert delivery mapping: %w", err)
	}
	return nil
}

// Get 按精确键查询映射
func (r *MongoDeliveryMappingRepository) Get(ctx context.Context, kind, sourceChannelID, sourceTS string) (*models.DeliveryMapping, error) {
	filter := bson.M{
		"kind":              kind,
		"source_channel_id": sourceChannelID,
		"source_ts":         sourceTS,
	}

	var m models.DeliveryMapping
	err := r.collection.FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query delivery mapping: %w", err)
	}
	return &m, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDeliveryMappingRepository) EnsureIndexes(ctx context.Context, ttlSeconds int32) error {
	indexes := []mongo.IndexModel{
		// 复合唯一索引（精确键查询 + 防止重复映射）
		{
			Keys: bson.D{
				{Key: "kind", Value: 1},
				{Key: "source_channel_id", Value: 1},
				{Key: "source_ts", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		// TTL 索引（过期映射自动清理，超窗后的编辑按新消息处理）
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for delivery_mappings: %w", err)
	}
	return nil
}
