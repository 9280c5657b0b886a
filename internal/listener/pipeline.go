package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relay_bot/internal/claim"
	"relay_bot/internal/config"
	"relay_bot/internal/logger"
	"relay_bot/internal/metrics"
	"relay_bot/internal/relay/models"
)

// Assigner 频道归属查询
type Assigner interface {
	BotFor(channelID string) (int, bool)
}

// Claimer 跨进程事件独占
type Claimer interface {
	TryClaim(ctx context.Context, ev *models.Event) (claim.Outcome, error)
}

// Enqueuer 转发任务入队
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.ForwardJob) (string, error)
}

// ChannelNamer 频道 ID → 频道名
type ChannelNamer interface {
	GetChannelName(ctx context.Context, channelID string) (string, error)
}

// Pipeline 入站事件处理流水线
// 过滤（归属/忽略/bot 消息）→ 分类 → claim → 入队，投递本身由 worker 完成
type Pipeline struct {
	botID      int
	assigner   Assigner
	claimer    Claimer
	queue      Enqueuer
	namer      ChannelNamer
	categories *Categories
	masters    config.MasterChannels
	metrics    *metrics.Metrics
	nameCache  *channelNameCache
	now        func() time.Time
}

// NewPipeline 创建流水线
func NewPipeline(
	botID int,
	assigner Assigner,
	claimer Claimer,
	queue Enqueuer,
	namer ChannelNamer,
	categories *Categories,
	masters config.MasterChannels,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		botID:      botID,
		assigner:   assigner,
		claimer:    claimer,
		queue:      queue,
		namer:      namer,
		categories: categories,
		masters:    masters,
		metrics:    m,
		nameCache:  newChannelNameCache(5 * time.Minute),
		now:        time.Now,
	}
}

// Handle 处理一个规范化入站事件
// 被过滤或 claim 失败的事件静默丢弃（返回 nil）；只有基础设施故障返回 error
func (p *Pipeline) Handle(ctx context.Context, ev *models.Event) error {
	// 归属检查：不属于本 bot 的频道由对应 bot 的 listener 处理
	if owner, ok := p.assigner.BotFor(ev.ChannelID); ok && owner != p.botID {
		return nil
	}

	channelName, err := p.channelName(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to resolve channel %s: %w", ev.ChannelID, err)
	}

	if p.categories.Ignored(channelName) {
		return nil
	}

	// apptbk 频道转发一切消息（含 bot），其余频道忽略 bot 消息
	if ev.FromBot() && !strings.HasSuffix(channelName, "-apptbk") {
		return nil
	}

	category, ok := p.categories.Classify(channelName)
	if !ok {
		return nil
	}

	target := p.masters.Resolve(category)
	if target == "" {
		return fmt.Errorf("no master channel configured for category %s", category)
	}

	outcome, err := p.claimer.TryClaim(ctx, ev)
	if err != nil {
		// store 不可达按 Lost 处理（fail closed），记录后放弃本事件
		logger.L().Warnf("Claim unavailable for %s, skipping event: %v", claim.Key(ev), err)
		p.metrics.IncClaim("lost")
		return nil
	}
	if outcome != claim.Won {
		p.metrics.IncClaim("lost")
		return nil
	}
	p.metrics.IncClaim("won")

	job := p.buildJob(ev, channelName, category, target)
	msgID, err := p.queue.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	p.metrics.IncEnqueued()

	logger.L().Infof("ENQUEUED %s stream_id=%s cat=%s src=#%s", job.Type, msgID, category, channelName)
	return nil
}

func (p *Pipeline) buildJob(ev *models.Event, channelName, category, target string) *models.ForwardJob {
	jobType := models.JobPost
	if ev.Kind == models.EventEditMessage {
		jobType = models.JobUpdate
	}

	return &models.ForwardJob{
		JobID:             uuid.NewString(),
		Type:              jobType,
		Category:          category,
		SourceChannelID:   ev.ChannelID,
		SourceChannelName: channelName,
		SourceTS:          ev.Timestamp,
		ThreadTS:          ev.ThreadTimestamp,
		IsThreadReply:     ev.IsThreadReply(),
		TargetChannelID:   target,
		Sender:            ev.Sender(),
		Text:              ev.Text,
		Files:             ev.Files,
		BotID:             p.botID,
		EnqueuedAt:        p.now().UTC(),
	}
}

func (p *Pipeline) channelName(ctx context.Context, channelID string) (string, error) {
	if name, ok := p.nameCache.Get(channelID); ok {
		return name, nil
	}

	name, err := p.namer.GetChannelName(ctx, channelID)
	if err != nil {
		return "", err
	}

	p.nameCache.Set(channelID, name)
	return name, nil
}
