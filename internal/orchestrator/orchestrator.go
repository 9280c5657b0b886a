package orchestrator

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"relay_bot/internal/config"
	"relay_bot/internal/logger"
	"relay_bot/internal/relay/models"
	"relay_bot/internal/relay/repository"
)

const (
	staleMultiplier = 3
	restartBudget   = 5
	restartWindow   = 10 * time.Minute
	shutdownGrace   = 10 * time.Second
)

// child 单个受管子进程
type child struct {
	role      string // worker / listener-<botID>
	botID     int    // listener 角色的 bot ID，worker 为 0
	state     State
	handle    Handle
	startedAt time.Time
	restarts  []time.Time // 重启时刻滑动窗口
}

// Orchestrator 多进程编排器
// 拉起 worker 与全部 listener，轮询心跳与进程退出，
// 按预算重启失联或退出的子进程
type Orchestrator struct {
	cfg        *config.Config
	spawner    Spawner
	heartbeats repository.HeartbeatRepository
	children   []*child
	interval   time.Duration
	now        func() time.Time
}

// New 创建编排器
func New(cfg *config.Config, spawner Spawner, heartbeats repository.HeartbeatRepository) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		spawner:    spawner,
		heartbeats: heartbeats,
		interval:   cfg.HeartbeatInterval,
		now:        time.Now,
	}

	// worker 先于 listener：消费者必须先就位，避免任务在 stream 中无人认领地堆积
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	for i := 1; i <= workers; i++ {
		role := models.RoleWorker
		if i > 1 {
			role = fmt.Sprintf("%s-%d", models.RoleWorker, i)
		}
		o.children = append(o.children, &child{role: role})
	}
	for _, bot := range cfg.Bots {
		o.children = append(o.children, &child{
			role:  fmt.Sprintf("%s-%d", models.RoleListener, bot.ID),
			botID: bot.ID,
		})
	}
	return o
}

// Run 阻塞运行编排循环直到 ctx 取消
func (o *Orchestrator) Run(ctx context.Context) error {
	logger.L().Infof("Orchestrator starting %d children", len(o.children))

	for _, c := range o.children {
		if err := o.start(c); err != nil {
			return fmt.Errorf("initial start of %s failed: %w", c.role, err)
		}
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.supervise(ctx)
		}
	}
}

// start 拉起一个子进程并进入 RUNNING
func (o *Orchestrator) start(c *child) error {
	o.transition(c, StateStarting)

	handle, err := o.spawner.Spawn(c.role, c.botID)
	if err != nil {
		return err
	}

	c.handle = handle
	c.startedAt = o.now()
	o.transition(c, StateRunning)
	logger.L().Infof("Child %s started, pid=%d", c.role, handle.PID())
	return nil
}

// supervise 一轮巡检：进程退出检测 + 心跳超时检测
// 心跳存储不可用时跳过本轮超时判定，避免把健康子进程误判为失联
func (o *Orchestrator) supervise(ctx context.Context) {
	lastSeen, beatsOK := o.collectHeartbeats(ctx)

	for _, c := range o.children {
		switch c.state {
		case StateRunning:
			o.checkChild(c, lastSeen, beatsOK)
		case StateFailedPermanent:
			// 不再干预，等待运维处理
		}
	}
}

func (o *Orchestrator) collectHeartbeats(ctx context.Context) (map[string]time.Time, bool) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	beats, err := o.heartbeats.List(listCtx)
	if err != nil {
		logger.L().Warnf("Heartbeat poll failed, skipping staleness check this round: %v", err)
		return nil, false
	}

	lastSeen := make(map[string]time.Time, len(beats))
	for _, hb := range beats {
		lastSeen[hb.Role] = hb.LastSeen
	}
	return lastSeen, true
}

func (o *Orchestrator) checkChild(c *child, lastSeen map[string]time.Time, beatsOK bool) {
	// 进程退出
	select {
	case err := <-c.handle.Done():
		o.transition(c, StateExited)
		logger.L().Warnf("Child %s exited: %v", c.role, err)
		o.restart(c)
		return
	default:
	}

	// 没有心跳数据时无从判定超时
	if !beatsOK {
		return
	}

	// 心跳超时：以启动时刻和最近心跳中较晚者为基准，给新进程留出首报窗口
	reference := c.startedAt
	if seen, ok := lastSeen[c.role]; ok && seen.After(reference) {
		reference = seen
	}
	if o.now().Sub(reference) > time.Duration(staleMultiplier)*o.interval {
		o.transition(c, StateStale)
		logger.L().Warnf("Child %s heartbeat stale, last activity %s", c.role, reference.Format(time.RFC3339))
		o.terminate(c)
		o.restart(c)
	}
}

// restart 在预算内重新拉起子进程，超出预算转入 FAILED_PERMANENT
func (o *Orchestrator) restart(c *child) {
	now := o.now()

	// 修剪窗口外的历史重启记录
	kept := c.restarts[:0]
	for _, t := range c.restarts {
		if now.Sub(t) <= restartWindow {
			kept = append(kept, t)
		}
	}
	c.restarts = kept

	if len(c.restarts) >= restartBudget {
		o.transition(c, StateFailedPermanent)
		logger.L().Errorf("Child %s exceeded restart budget (%d in %s), operator attention required",
			c.role, restartBudget, restartWindow)
		return
	}

	c.restarts = append(c.restarts, now)
	o.transition(c, StateRestarting)

	if err := o.start(c); err != nil {
		o.transition(c, StateExited)
		logger.L().Errorf("Restart of %s failed: %v", c.role, err)
	}
}

// terminate SIGTERM 后限时等待，超时 SIGKILL
func (o *Orchestrator) terminate(c *child) {
	if c.handle == nil {
		return
	}

	if err := c.handle.Signal(syscall.SIGTERM); err != nil {
		logger.L().Warnf("SIGTERM to %s failed: %v", c.role, err)
	}

	select {
	case <-c.handle.Done():
	case <-time.After(shutdownGrace):
		logger.L().Warnf("Child %s did not exit within %s, killing", c.role, shutdownGrace)
		_ = c.handle.Kill()
		<-c.handle.Done()
	}
}

// shutdown 优雅停止全部子进程
func (o *Orchestrator) shutdown() {
	logger.L().Info("Orchestrator shutting down children...")

	for _, c := range o.children {
		if c.state == StateRunning || c.state == StateStale {
			if err := c.handle.Signal(syscall.SIGTERM); err != nil {
				logger.L().Warnf("SIGTERM to %s failed: %v", c.role, err)
			}
		}
	}

	deadline := time.After(shutdownGrace)
	for _, c := range o.children {
		if c.state != StateRunning && c.state != StateStale {
			continue
		}
		select {
		case <-c.handle.Done():
			o.transition(c, StateStopped)
		case <-deadline:
			logger.L().Warnf("Child %s did not exit in time, killing", c.role)
			_ = c.handle.Kill()
			<-c.handle.Done()
			o.transition(c, StateStopped)
		}
	}

	logger.L().Info("All children stopped")
}

func (o *Orchestrator) transition(c *child, next State) {
	if c.state == next {
		return
	}
	logger.L().Debugf("Child %s: %s -> %s", c.role, c.state, next)
	c.state = next
}
