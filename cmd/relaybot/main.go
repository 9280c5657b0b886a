package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"relay_bot/internal/app"
	"relay_bot/internal/assign"
	"relay_bot/internal/claim"
	"relay_bot/internal/config"
	"relay_bot/internal/discovery"
	"relay_bot/internal/heartbeat"
	"relay_bot/internal/listener"
	"relay_bot/internal/logger"
	"relay_bot/internal/metrics"
	"relay_bot/internal/orchestrator"
	"relay_bot/internal/queue"
	"relay_bot/internal/relay/models"
	"relay_bot/internal/slackapi"
	"relay_bot/internal/worker"
)

func main() {
	logger.Init()

	command := models.RoleOrchestrator
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("Config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case models.RoleOrchestrator:
		logger.SetProcess(models.RoleOrchestrator)
		err = runOrchestrator(ctx, cfg)
	case models.RoleListener:
		logger.SetProcess(roleName(models.RoleListener, cfg.BotID))
		err = runListener(ctx, cfg)
	case models.RoleWorker:
		logger.SetProcess(roleName(models.RoleWorker, 0))
		err = runWorker(ctx, cfg)
	default:
		logger.L().Fatalf("Unknown command %q (expected orchestrator, listener or worker)", command)
	}

	if err != nil {
		logger.L().Fatalf("%s failed: %v", command, err)
	}
}

// roleName 进程的心跳角色名
// orchestrator 启动子进程时通过 RELAY_ROLE 指定；直接运行时按约定推导
func roleName(base string, botID int) string {
	if role := os.Getenv("RELAY_ROLE"); role != "" {
		return role
	}
	if base == models.RoleListener {
		return fmt.Sprintf("%s-%d", base, botID)
	}
	return base
}

func runOrchestrator(ctx context.Context, cfg *config.Config) error {
	services, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer services.Close(context.Background())

	if err := services.EnsureIndexes(ctx, int32(cfg.MappingTTL/time.Second)); err != nil {
		return err
	}

	spawner, err := orchestrator.NewExecSpawner()
	if err != nil {
		return err
	}

	return orchestrator.New(cfg, spawner, services.Heartbeats).Run(ctx)
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	services, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer services.Close(context.Background())

	clients := make(map[int]worker.SlackGateway, len(cfg.Bots))
	for _, creds := range cfg.Bots {
		clients[creds.ID] = slackapi.New(creds)
	}

	role := roleName(models.RoleWorker, 0)
	m := metrics.New()
	m.Serve(ctx, workerMetricsAddr(cfg, role))

	jobs := queue.New(services.Redis, fmt.Sprintf("worker-%d", os.Getpid()))
	w := worker.New(jobs, clients, services.Mappings, services.FailedJobs, cfg.MaxAttempts, m)

	reporter := heartbeat.NewReporter(services.Heartbeats, role, cfg.HeartbeatInterval)
	go reporter.Run(ctx)

	return w.Run(ctx)
}

func runListener(ctx context.Context, cfg *config.Config) error {
	creds, ok := cfg.Bot(cfg.BotID)
	if !ok {
		return fmt.Errorf("no credentials for bot %d", cfg.BotID)
	}

	services, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer services.Close(context.Background())

	client := slackapi.New(creds)

	store := assign.NewFileStore(cfg.AssignmentFile)
	botIDs := make([]int, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		botIDs = append(botIDs, b.ID)
	}
	engine := assign.NewEngine(store, botIDs, assign.DefaultReplicas)

	// 分配表由 bot 1 的 discovery 写入，其余 listener 周期重读
	if cfg.BotID != 1 {
		go reloadAssignments(ctx, engine)
	}

	m := metrics.New()
	m.Serve(ctx, offsetAddr(cfg.MetricsAddr, cfg.BotID))

	claimer := claim.New(services.Redis, cfg.ClaimTTL, cfg.BotID)
	jobs := queue.New(services.Redis, fmt.Sprintf("listener-%d", os.Getpid()))
	categories := listener.LoadCategories(cfg.ChannelListsFile)

	pipeline := listener.NewPipeline(cfg.BotID, engine, claimer, jobs, client, categories, cfg.Masters, m)
	reporter := heartbeat.NewReporter(services.Heartbeats, roleName(models.RoleListener, cfg.BotID), cfg.HeartbeatInterval)

	var refresher listener.Refresher
	if cfg.BotID == 1 {
		detailsPath := filepath.Join(filepath.Dir(cfg.AssignmentFile), "discovered_channels.json")
		refresher = discovery.New(client, engine, detailsPath)
	}

	return listener.New(cfg, client, pipeline, reporter, refresher).Run(ctx)
}

func reloadAssignments(ctx context.Context, engine *assign.Engine) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.Reload(); err != nil {
				logger.L().Warnf("Assignment reload failed: %v", err)
			}
		}
	}
}

// workerMetricsAddr 多 worker 进程的指标地址
// 首个 worker 用原始地址，其余排在 listener 端口段（port+1..port+N）之后
func workerMetricsAddr(cfg *config.Config, role string) string {
	idx := workerIndex(role)
	if idx <= 1 {
		return cfg.MetricsAddr
	}
	return offsetAddr(cfg.MetricsAddr, len(cfg.Bots)+idx-1)
}

// workerIndex 角色名中的 worker 序号，首个 worker 不带编号
func workerIndex(role string) int {
	rest := strings.TrimPrefix(role, models.RoleWorker+"-")
	if rest == role {
		return 1
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// offsetAddr 给监听地址的端口加上偏移，避免多进程端口冲突
func offsetAddr(addr string, offset int) string {
	if addr == "" {
		return ""
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+offset))
}
