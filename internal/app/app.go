package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"relay_bot/internal/config"
	"relay_bot/internal/logger"
	"relay_bot/internal/mongo"
	"relay_bot/internal/redisdb"
	"relay_bot/internal/relay/repository"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB *mongo.Client
	Redis   *redis.Client

	Mappings   repository.DeliveryMappingRepository
	Heartbeats repository.HeartbeatRepository
	FailedJobs repository.FailedJobRepository
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会返回错误
func New(cfg *config.Config) (*App, error) {
	app := &App{}

	mongoClient, err := mongo.NewClient(mongo.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	redisClient, err := redisdb.NewClient(cfg.Redis)
	if err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("init Redis failed: %w", err)
	}
	app.Redis = redisClient
	logger.L().Info("Redis initialized successfully")

	db := mongoClient.Database()
	app.Mappings = repository.NewMongoDeliveryMappingRepository(db)
	app.Heartbeats = repository.NewMongoHeartbeatRepository(db)
	app.FailedJobs = repository.NewMongoFailedJobRepository(db)

	return app, nil
}

// EnsureIndexes 确保所有集合的索引存在
// 幂等，每个进程启动时调用一次
func (a *App) EnsureIndexes(ctx context.Context, mappingTTLSeconds int32) error {
	if err := a.Mappings.EnsureIndexes(ctx, mappingTTLSeconds); err != nil {
		return fmt.Errorf("ensure delivery mapping indexes failed: %w", err)
	}
	if err := a.Heartbeats.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure heartbeat indexes failed: %w", err)
	}
	if err := a.FailedJobs.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure failed job indexes failed: %w", err)
	}
	return nil
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.L().Warnf("close Redis failed: %v", err)
		}
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}
