package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"relay_bot/internal/logger"
	"relay_bot/internal/metrics"
	"relay_bot/internal/queue"
	"relay_bot/internal/relay/models"
	"relay_bot/internal/relay/repository"
	"relay_bot/internal/slackapi"
)

const (
	defaultMaxAttempts = 5
	dequeueBlock       = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// SlackGateway Worker 投递需要的 Slack 操作
type SlackGateway interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
	FetchMessage(ctx context.Context, channelID, ts string) (text, user string, err error)
	FetchFile(ctx context.Context, downloadURL string) ([]byte, error)
	UploadFile(ctx context.Context, channelID, filename string, content []byte) error
}

// JobSource 任务来源
type JobSource interface {
	EnsureGroup(ctx context.Context) error
	Dequeue(ctx context.Context, count int64, block time.Duration) ([]queue.Delivery, error)
	Ack(ctx context.Context, id string) error
}

// Worker 转发执行器
// 独占消费任务流，带限速、重试和幂等保护地投递到 master 频道
type Worker struct {
	jobs        JobSource
	clients     map[int]SlackGateway // bot ID -> 该 bot 凭证的客户端
	mappings    repository.DeliveryMappingRepository
	failed      repository.FailedJobRepository
	limiter     *RateLimiter
	metrics     *metrics.Metrics
	maxAttempts int

	// 注入点，测试用
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New 创建 Worker
func New(
	jobs JobSource,
	clients map[int]SlackGateway,
	mappings repository.DeliveryMappingRepository,
	failed repository.FailedJobRepository,
	maxAttempts int,
	m *metrics.Metrics,
) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Worker{
		jobs:        jobs,
		clients:     clients,
		mappings:    mappings,
		failed:      failed,
		limiter:     NewRateLimiter(1),
		metrics:     m,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
		jitter:      rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run 阻塞消费任务流直到 ctx 取消
func (w *Worker) Run(ctx context.Context) error {
	if err := w.jobs.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}
	defer w.limiter.Close()

	logger.L().Info("Forwarder worker started")

	for {
		select {
		case <-ctx.Done():
			logger.L().Info("Forwarder worker stopping")
			return nil
		default:
		}

		deliveries, err := w.jobs.Dequeue(ctx, 1, dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.L().Errorf("Dequeue failed: %v", err)
			if err := w.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		for _, d := range deliveries {
			w.process(ctx, d)
		}
	}
}

// process 处理单个任务直到终态（成功、归档失败或 ctx 取消）
// ctx 取消时不 Ack，条目留在 pending 列表等待重投
func (w *Worker) process(ctx context.Context, d queue.Delivery) {
	job := d.Job

	for {
		err := w.deliver(ctx, job)
		if err == nil {
			if err := w.jobs.Ack(ctx, d.ID); err != nil {
				logger.L().Warnf("Ack failed for %s: %v", d.ID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		job.AttemptCount++
		if job.AttemptCount >= w.maxAttempts {
			w.archive(ctx, job, err)
			if err := w.jobs.Ack(ctx, d.ID); err != nil {
				logger.L().Warnf("Ack failed for %s: %v", d.ID, err)
			}
			return
		}

		w.metrics.IncRetry()
		wait, hinted := slackapi.RetryAfter(err)
		if !hinted || wait <= 0 {
			wait = w.backoff(job.AttemptCount)
		}
		logger.L().Warnf("Delivery attempt %d/%d failed for job %s: %v, retrying in %s",
			job.AttemptCount, w.maxAttempts, job.JobID, err, wait)
		if err := w.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// backoff 指数退避加随机抖动，避免多个 worker 同步重试
func (w *Worker) backoff(attempt int) time.Duration {
	base := time.Second << uint(attempt-1)
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(float64(base) * (0.5 + w.jitter()))
}

func (w *Worker) archive(ctx context.Context, job *models.ForwardJob, cause error) {
	logger.L().Errorf("Job %s failed permanently after %d attempts: %v", job.JobID, job.AttemptCount, cause)
	w.metrics.IncFailed()

	if err := w.failed.Archive(ctx, models.NewFailedJob(job, cause.Error())); err != nil {
		logger.L().Errorf("Failed to archive job %s: %v", job.JobID, err)
	}
}

func (w *Worker) deliver(ctx context.Context, job *models.ForwardJob) error {
	client, err := w.clientFor(job.BotID)
	if err != nil {
		return err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	if job.Type == models.JobUpdate {
		return w.deliverUpdate(ctx, client, job)
	}
	return w.deliverPost(ctx, client, job)
}

// clientFor 返回任务所属 bot 的客户端，缺失时退回任一可用客户端
func (w *Worker) clientFor(botID int) (SlackGateway, error) {
	if c, ok := w.clients[botID]; ok {
		return c, nil
	}
	for id, c := range w.clients {
		logger.L().Warnf("No client for bot %d, falling back to bot %d", botID, id)
		return c, nil
	}
	return nil, fmt.Errorf("no slack clients configured")
}

// deliverUpdate 编辑已转发的消息
// 无映射（从未转发或已过保留期）时记录后跳过，不算失败
func (w *Worker) deliverUpdate(ctx context.Context, client SlackGateway, job *models.ForwardJob) error {
	mapping, err := w.mappings.Get(ctx, models.MappingKindMessage, job.SourceChannelID, job.SourceTS)
	if errors.Is(err, repository.ErrNotFound) {
		logger.L().Warnf("No delivery mapping for edit %s:%s, skipping", job.SourceChannelID, job.SourceTS)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mapping lookup failed: %w", err)
	}

	text := FormatForward(job.SourceChannelName, job.Text, job.Sender, job.SourceTS)
	if err := client.UpdateMessage(ctx, mapping.TargetChannelID, mapping.TargetTS, text); err != nil {
		return fmt.Errorf("chat.update failed: %w", err)
	}

	w.metrics.IncForward("update")
	logger.L().Infof("Updated forwarded message in %s from #%s", mapping.TargetChannelID, job.SourceChannelName)
	return nil
}

// deliverPost 转发新消息
func (w *Worker) deliverPost(ctx context.Context, client SlackGateway, job *models.ForwardJob) error {
	// 幂等保护：映射已存在说明此前已成功投递（stream 重投或 Ack 丢失）
	_, err := w.mappings.Get(ctx, models.MappingKindMessage, job.SourceChannelID, job.SourceTS)
	if err == nil {
		logger.L().Infof("Job %s already delivered, skipping", job.JobID)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("idempotence check failed: %w", err)
	}

	// 线程定位：优先使用已有锚点；缺失时补发父消息建立锚点
	threadTS := ""
	anchorMissing := false
	if job.IsThreadReply && job.ThreadTS != "" {
		anchor, err := w.mappings.Get(ctx, models.MappingKindParent, job.SourceChannelID, job.ThreadTS)
		switch {
		case err == nil:
			threadTS = anchor.TargetTS
		case errors.Is(err, repository.ErrNotFound):
			threadTS = w.ensureParent(ctx, client, job)
			anchorMissing = threadTS == ""
		default:
			return fmt.Errorf("anchor lookup failed: %w", err)
		}
	}

	text := FormatForward(job.SourceChannelName, job.Text, job.Sender, job.SourceTS)
	destTS, err := client.PostMessage(ctx, job.TargetChannelID, text, threadTS)
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}

	// 消息已发出，映射写失败只告警：重试会导致重复投递
	w.saveMapping(ctx, models.MappingKindMessage, job.SourceChannelID, job.SourceTS, job.TargetChannelID, destTS)
	if !job.IsThreadReply {
		// 顶层消息同时作为其未来线程回复的锚点
		w.saveMapping(ctx, models.MappingKindParent, job.SourceChannelID, job.SourceTS, job.TargetChannelID, destTS)
	} else if anchorMissing {
		// 父消息不可恢复，本条顶层投递充当该线程的锚点
		w.saveMapping(ctx, models.MappingKindParent, job.SourceChannelID, job.ThreadTS, job.TargetChannelID, destTS)
	}

	w.uploadAttachments(ctx, client, job)

	w.metrics.IncForward("post")
	logger.L().Infof("Posted message to %s from #%s", job.TargetChannelID, job.SourceChannelName)
	return nil
}

// ensureParent 在 master 频道补发线程父消息，返回其 ts；失败返回空串
func (w *Worker) ensureParent(ctx context.Context, client SlackGateway, job *models.ForwardJob) string {
	parentText, parentUser, err := client.FetchMessage(ctx, job.SourceChannelID, job.ThreadTS)
	if err != nil {
		logger.L().Warnf("Failed to fetch thread parent %s:%s: %v", job.SourceChannelID, job.ThreadTS, err)
		return ""
	}
	if parentUser == "" {
		parentUser = "unknown"
	}

	text := FormatForward(job.SourceChannelName, parentText, parentUser, job.ThreadTS)
	destTS, err := client.PostMessage(ctx, job.TargetChannelID, text, "")
	if err != nil {
		logger.L().Warnf("Failed to post thread parent for %s: %v", job.JobID, err)
		return ""
	}

	w.saveMapping(ctx, models.MappingKindParent, job.SourceChannelID, job.ThreadTS, job.TargetChannelID, destTS)
	return destTS
}

func (w *Worker) saveMapping(ctx context.Context, kind, sourceChannelID, sourceTS, targetChannelID, targetTS string) {
	err := w.mappings.Upsert(ctx, &models.DeliveryMapping{
		Kind:            kind,
		SourceChannelID: sourceChannelID,
		SourceTS:        sourceTS,
		TargetChannelID: targetChannelID,
		TargetTS:        targetTS,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		logger.L().Warnf("Failed to save %s mapping %s:%s: %v", kind, sourceChannelID, sourceTS, err)
	}
}

// uploadAttachments 用所属 bot 的凭证取回附件并重传到目标频道
// 附件失败不影响文本投递结果
func (w *Worker) uploadAttachments(ctx context.Context, client SlackGateway, job *models.ForwardJob) {
	for _, f := range job.Files {
		if f.DownloadURL == "" {
			continue
		}

		content, err := client.FetchFile(ctx, f.DownloadURL)
		if err != nil {
			logger.L().Warnf("Failed to fetch attachment %s for job %s: %v", f.ID, job.JobID, err)
			continue
		}
		if err := client.UploadFile(ctx, job.TargetChannelID, f.Name, content); err != nil {
			logger.L().Warnf("Failed to upload attachment %s for job %s: %v", f.ID, job.JobID, err)
		}
	}
}
