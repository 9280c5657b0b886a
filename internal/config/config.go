package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	Bots              []BotCredentials // 所有 bot 身份（索引 1..N）
	BotID             int              // 当前进程的 bot ID（listener 进程由 orchestrator 注入）
	Masters           MasterChannels   // 各分类对应的 master 频道
	Redis             RedisConfig      // Claim Store / Job Queue 连接参数
	MongoURI          string           // MongoDB 连接 URI
	MongoDBName       string           // MongoDB 数据库名称
	ClaimTTL          time.Duration    // FCFS claim 的过期时间
	MappingTTL        time.Duration    // DeliveryMapping 的保留时间
	WorkerCount       int              // forwarder worker 进程数量
	MaxAttempts       int              // 单个任务的最大投递尝试次数
	HeartbeatInterval time.Duration    // 子进程心跳上报间隔
	AssignmentFile    string           // 频道分配持久化文件
	ChannelListsFile  string           // 频道分类列表文件
	MetricsAddr       string           // /metrics 监听地址（为空则不启用）
}

// BotCredentials 单个 bot 身份的凭证对
type BotCredentials struct {
	ID       int
	Name     string
	BotToken string // Slack Web API token (xoxb-)
	AppToken string // Socket Mode token (xapp-)
}

// MasterChannels 各消息分类的聚合目标频道
type MasterChannels struct {
	Agent        string
	Apptbk       string
	ManagedAdmin string
	StormAdmin   string
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Resolve 根据分类返回 master 频道 ID，未知分类返回空串
func (m MasterChannels) Resolve(category string) string {
	switch category {
	case "agent":
		return m.Agent
	case "apptbk":
		return m.Apptbk
	case "managed_admin":
		return m.ManagedAdmin
	case "storm_admin":
		return m.StormAdmin
	}
	return ""
}

// Validate 校验所有 master 频道均已配置
func (m MasterChannels) Validate() error {
	if m.Agent == "" || m.Apptbk == "" {
		return fmt.Errorf("AGENT_MASTER_CHANNEL_ID and APPTBK_MASTER_CHANNEL_ID must be set")
	}
	if m.ManagedAdmin == "" || m.StormAdmin == "" {
		return fmt.Errorf("MANAGED_ADMIN_MASTER_CHANNEL_ID and STORM_ADMIN_MASTER_CHANNEL_ID must be set")
	}
	return nil
}

// Bot 根据 ID 返回 bot 凭证
func (c *Config) Bot(id int) (BotCredentials, bool) {
	for _, b := range c.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return BotCredentials{}, false
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "relay_bot"
	}

	cfg := &Config{
		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDBName: mongoDBName,
		Masters: MasterChannels{
			Agent:        strings.TrimSpace(os.Getenv("AGENT_MASTER_CHANNEL_ID")),
			Apptbk:       strings.TrimSpace(os.Getenv("APPTBK_MASTER_CHANNEL_ID")),
			ManagedAdmin: strings.TrimSpace(os.Getenv("MANAGED_ADMIN_MASTER_CHANNEL_ID")),
			StormAdmin:   strings.TrimSpace(os.Getenv("STORM_ADMIN_MASTER_CHANNEL_ID")),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	var err error
	cfg.Bots, err = loadBotCredentials()
	if err != nil {
		return nil, err
	}

	// BOT_ID（listener 进程专用，orchestrator/worker 不检查）
	if idStr := strings.TrimSpace(os.Getenv("BOT_ID")); idStr != "" {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_ID: %w", err)
		}
		cfg.BotID = id
	} else {
		cfg.BotID = 1
	}

	if dbStr := strings.TrimSpace(os.Getenv("REDIS_DB")); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}

	// 解析CLAIM_TTL_SECONDS（默认300秒，跨 bot FCFS 去重窗口）
	cfg.ClaimTTL, err = secondsEnv("CLAIM_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	// 解析MAPPING_TTL_DAYS（默认7天）
	mappingDays, err := intEnv("MAPPING_TTL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cfg.MappingTTL = time.Duration(mappingDays) * 24 * time.Hour

	cfg.WorkerCount, err = intEnv("FORWARDER_WORKER_COUNT", 1)
	if err != nil {
		return nil, err
	}

	cfg.MaxAttempts, err = intEnv("MAX_DELIVERY_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	cfg.HeartbeatInterval, err = secondsEnv("HEARTBEAT_INTERVAL_SECONDS", 10)
	if err != nil {
		return nil, err
	}

	cfg.AssignmentFile = os.Getenv("ASSIGNMENT_FILE")
	if cfg.AssignmentFile == "" {
		cfg.AssignmentFile = "data/channel_assignment.json"
	}

	cfg.ChannelListsFile = os.Getenv("CHANNEL_LISTS_PATH")
	if cfg.ChannelListsFile == "" {
		cfg.ChannelListsFile = "data/channel_lists.json"
	}

	cfg.MetricsAddr = strings.TrimSpace(os.Getenv("METRICS_ADDR"))

	return cfg, nil
}

// loadBotCredentials 枚举 SLACK_BOT_TOKEN[_N]/SLACK_APP_TOKEN[_N] 环境变量
// Bot 1 使用不带编号的变量名，Bot 2+ 使用带编号的变量名（与部署脚本约定一致）
func loadBotCredentials() ([]BotCredentials, error) {
	var bots []BotCredentials

	for id := 1; ; id++ {
		var botToken, appToken string
		if id == 1 {
			botToken = os.Getenv("SLACK_BOT_TOKEN")
			appToken = os.Getenv("SLACK_APP_TOKEN")
		} else {
			botToken = os.Getenv(fmt.Sprintf("SLACK_BOT_TOKEN_%d", id))
			appToken = os.Getenv(fmt.Sprintf("SLACK_APP_TOKEN_%d", id))
		}

		if botToken == "" || appToken == "" {
			break
		}

		bots = append(bots, BotCredentials{
			ID:       id,
			Name:     fmt.Sprintf("Bot-%d", id),
			BotToken: botToken,
			AppToken: appToken,
		})
	}

	if len(bots) == 0 {
		return nil, fmt.Errorf("no bot credentials found: set SLACK_BOT_TOKEN and SLACK_APP_TOKEN")
	}

	return bots, nil
}

func intEnv(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("%s must be >= 1, got %d", name, v)
	}
	return v, nil
}

func secondsEnv(name string, def int) (time.Duration, error) {
	v, err := intEnv(name, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
