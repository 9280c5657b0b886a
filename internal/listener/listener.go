package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"relay_bot/internal/config"
	"relay_bot/internal/heartbeat"
	"relay_bot/internal/logger"
	"relay_bot/internal/slackapi"
)

// Refresher 频道发现刷新（仅 bot 1 的 listener 持有）
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Listener 单个 bot 身份的 Socket Mode 监听进程
type Listener struct {
	cfg       *config.Config
	client    *slackapi.Client
	pipeline  *Pipeline
	reporter  *heartbeat.Reporter
	refresher Refresher // 可为 nil
	pool      *EventPool
}

// New 组装 listener
func New(cfg *config.Config, client *slackapi.Client, pipeline *Pipeline, reporter *heartbeat.Reporter, refresher Refresher) *Listener {
	return &Listener{
		cfg:       cfg,
		client:    client,
		pipeline:  pipeline,
		reporter:  reporter,
		refresher: refresher,
	}
}

// Run 阻塞运行 listener 直到 ctx 取消
func (l *Listener) Run(ctx context.Context) error {
	if err := l.cfg.Masters.Validate(); err != nil {
		return fmt.Errorf("master channel config invalid: %w", err)
	}
	l.validateMasterChannels(ctx)

	go l.reporter.Run(ctx)

	if err := l.pipeline.categories.Watch(ctx); err != nil {
		logger.L().Warnf("Channel lists watch unavailable: %v", err)
	}

	if l.refresher != nil {
		if err := l.runDiscoveryCron(ctx); err != nil {
			return err
		}
	}

	l.pool = NewEventPool(4, 256, l.pipeline.Handle)
	defer l.pool.Shutdown()

	runner := slackapi.NewSocketRunner(l.client, l.pool.Submit)
	logger.L().Infof("Listener for bot %d starting", l.client.BotID())
	return runner.Run(ctx)
}

// validateMasterChannels 启动时逐一确认 master 频道可访问
// 失败仅告警：频道权限问题应尽早暴露，但不应阻止其余分类的转发
func (l *Listener) validateMasterChannels(ctx context.Context) {
	masters := map[string]string{
		CategoryAgent:        l.cfg.Masters.Agent,
		CategoryApptbk:       l.cfg.Masters.Apptbk,
		CategoryManagedAdmin: l.cfg.Masters.ManagedAdmin,
		CategoryStormAdmin:   l.cfg.Masters.StormAdmin,
	}

	for category, channelID := range masters {
		name, err := l.client.GetChannelName(ctx, channelID)
		if err != nil {
			logger.L().Errorf("Master channel for %s (%s) validation failed: %v", category, channelID, err)
			continue
		}
		logger.L().Infof("Master channel for %s validated: #%s", category, name)
	}
}

// runDiscoveryCron 启动即刷新一次，此后每 12 小时刷新
func (l *Listener) runDiscoveryCron(ctx context.Context) error {
	refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := l.refresher.Refresh(refreshCtx); err != nil {
		logger.L().Errorf("Initial channel discovery failed: %v", err)
	}
	cancel()

	c := cron.New()
	_, err := c.AddFunc("@every 12h", func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := l.refresher.Refresh(refreshCtx); err != nil {
			logger.L().Errorf("Scheduled channel discovery failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule channel discovery: %w", err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}
