package repository

import (
	"context"
	"errors"

	"relay_bot/internal/relay/models"
)

// ErrNotFound 查询无匹配记录
var ErrNotFound = errors.New("record not found")

// DeliveryMappingRepository 投递映射数据访问接口
type DeliveryMappingRepository interface {
	// Upsert 写入或更新映射（首次成功转发后调用）
	Upsert(ctx context.Context, m *models.DeliveryMapping) error

	// Get 按精确键查询映射，未命中返回 ErrNotFound
	Get(ctx context.Context, kind, sourceChannelID, sourceTS string) (*models.DeliveryMapping, error)

	// EnsureIndexes 确保索引存在（唯一键 + TTL）
	EnsureIndexes(ctx context.Context, ttlSeconds int32) error
}

// HeartbeatRepository 心跳数据访问接口
type HeartbeatRepository interface {
	// Beat 上报一次心跳（按 role upsert）
	Beat(ctx context.Context, role string, pid int) error

	// List 列出所有角色的最新心跳
	List(ctx context.Context) ([]*models.Heartbeat, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// FailedJobRepository 终态失败任务归档接口
type FailedJobRepository interface {
	// Archive 归档一个重试耗尽的任务
	Archive(ctx context.Context, job *models.FailedJob) error

	// ListRecent 按失败时间倒序列出最近的归档任务
	ListRecent(ctx context.Context, limit int64) ([]*models.FailedJob, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
