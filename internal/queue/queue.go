package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relay_bot/internal/logger"
	"relay_bot/internal/relay/models"
)

const (
	// StreamJobs 转发任务流
	StreamJobs = "forwarding:jobs"
	// GroupWorkers worker 消费组，组语义保证单任务至多一个活跃消费者
	GroupWorkers = "workers"

	// maxStreamLen 流长度上限（近似裁剪），防止无界增长
	maxStreamLen = 10000
)

// Store Job Queue 需要的 Redis Stream 原语
type Store interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Queue 持久化转发任务队列
// 单一 stream 保证入队顺序，worker 按序处理即得到每目标频道的 FIFO
type Queue struct {
	store    Store
	stream   string
	group    string
	consumer string
}

// Delivery 一次独占出队的任务
type Delivery struct {
	ID  string // stream 条目 ID，终态后需 Ack
	Job *models.ForwardJob
}

// New 创建队列句柄
// consumer 为消费者名（每个 worker 进程唯一，如 worker-<pid>）
func New(store Store, consumer string) *Queue {
	return &Queue{
		store:    store,
		stream:   StreamJobs,
		group:    GroupWorkers,
		consumer: consumer,
	}
}

// EnsureGroup 创建消费组（幂等，组已存在视为成功）
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.store.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, err)
	}
	return nil
}

// Enqueue 入队转发任务，返回 stream 条目 ID
// 写入被确认后才返回；失败由调用方决定是否放弃该事件
func (q *Queue) Enqueue(ctx context.Context, job *models.ForwardJob) (string, error) {
	fields, err := job.Flatten()
	if err != nil {
		return "", err
	}

	id, err := q.store.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return id, nil
}

// Dequeue 从消费组独占读取一批任务
// 阻塞至多 block；超时返回空切片。无法解码的条目直接 Ack 并丢弃（poison entry）
func (q *Queue) Dequeue(ctx context.Context, count int64, block time.Duration) ([]Delivery, error) {
	streams, err := q.store.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from job stream: %w", err)
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := models.UnflattenJob(msg.Values)
			if err != nil {
				logger.L().Errorf("Dropping undecodable job entry %s: %v", msg.ID, err)
				_ = q.Ack(ctx, msg.ID)
				continue
			}
			deliveries = append(deliveries, Delivery{ID: msg.ID, Job: job})
		}
	}
	return deliveries, nil
}

// Ack 确认任务处理完成（成功或终态失败）
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.store.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack job entry %s: %w", id, err)
	}
	return nil
}
