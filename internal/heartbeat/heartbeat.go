package heartbeat

import (
	"context"
	"os"
	"time"

	"relay_bot/internal/logger"
	"relay_bot/internal/relay/repository"
)

// Reporter 周期性向 MongoDB 上报进程存活状态
// orchestrator 据此判断子进程是否失联
type Reporter struct {
	repo     repository.HeartbeatRepository
	role     string
	pid      int
	interval time.Duration
}

// NewReporter 创建心跳上报器
func NewReporter(repo repository.HeartbeatRepository, role string, interval time.Duration) *Reporter {
	return &Reporter{
		repo:     repo,
		role:     role,
		pid:      os.Getpid(),
		interval: interval,
	}
}

// Run 阻塞运行，按固定间隔上报，ctx 取消时返回
// 启动时立即上报一次，避免 orchestrator 在首个间隔内误判为失联
func (r *Reporter) Run(ctx context.Context) {
	r.beat(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Reporter) beat(ctx context.Context) {
	beatCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.repo.Beat(beatCtx, r.role, r.pid); err != nil {
		logger.L().Warnf("Heartbeat upsert failed for %s: %v", r.role, err)
	}
}
