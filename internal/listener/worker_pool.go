package listener

import (
	"context"
	"sync"

	"relay_bot/internal/logger"
	"relay_bot/internal/relay/models"
)

// eventTask 待处理的入站事件
type eventTask struct {
	ctx context.Context
	ev  *models.Event
}

// EventPool 入站事件工作池
// socket 消费协程只负责 ack 与投递到池内，避免慢速下游阻塞连接
type EventPool struct {
	taskQueue chan eventTask
	handle    func(ctx context.Context, ev *models.Event) error
	wg        sync.WaitGroup
	workers   int

	mu     sync.Mutex
	closed bool
}

// NewEventPool 创建工作池
// workers: worker 协程数量
// queueSize: 任务队列大小
func NewEventPool(workers, queueSize int, handle func(ctx context.Context, ev *models.Event) error) *EventPool {
	pool := &EventPool{
		taskQueue: make(chan eventTask, queueSize),
		handle:    handle,
		workers:   workers,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Event pool started with %d workers, queue size %d", workers, queueSize)
	return pool
}

func (p *EventPool) worker(id int) {
	defer p.wg.Done()

	logger.L().Debugf("Event worker %d started", id)

	for task := range p.taskQueue {
		// 带 panic recovery 执行，单个事件的崩溃不拖垮整个池
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.L().Errorf("Event worker %d: handler panic recovered: %v", id, r)
				}
			}()

			if err := p.handle(task.ctx, task.ev); err != nil {
				logger.L().Errorf("Event worker %d: %v", id, err)
			}
		}()
	}

	logger.L().Debugf("Event worker %d stopped", id)
}

// Submit 提交事件到工作池
// 队列满时丢弃并告警，claim 尚未发生，其他 bot 仍可接手该事件
// 关闭后提交的事件同样丢弃，socket 消费协程可能晚于 Shutdown 仍在投递
func (p *EventPool) Submit(ctx context.Context, ev *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		logger.L().Warnf("Event pool is shut down, event dropped: channel=%s", ev.ChannelID)
		return
	}

	select {
	case p.taskQueue <- eventTask{ctx: ctx, ev: ev}:
	default:
		logger.L().Warnf("Event pool queue is full, event dropped: channel=%s", ev.ChannelID)
	}
}

// Shutdown 优雅关闭工作池，等待在途事件处理完成
func (p *EventPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()

	logger.L().Info("Shutting down event pool...")
	p.wg.Wait()
	logger.L().Info("Event pool shut down successfully")
}
