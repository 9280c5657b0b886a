package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// JobType 转发任务类型
type JobType string

const (
	JobPost   JobType = "post"   // 新消息转发
	JobUpdate JobType = "update" // 编辑已转发的消息
)

// ForwardJob 转发任务
// 由 Listener 在 claim 成功后创建，Worker 独占消费
// Redis Stream 仅接受扁平字段，嵌套结构经 Flatten/UnflattenJob 编解码
type ForwardJob struct {
	JobID             string
	Type              JobType
	Category          string // agent / apptbk / managed_admin / storm_admin
	SourceChannelID   string
	SourceChannelName string
	SourceTS          string
	ThreadTS          string // 线程父消息 ts，可选
	IsThreadReply     bool
	TargetChannelID   string
	Sender            string
	Text              string
	Files             []FileRef
	BotID             int // 负责该来源频道的 bot（worker 用其凭证投递）
	AttemptCount      int
	EnqueuedAt        time.Time
}

// Flatten 编码为 Redis Stream 的扁平字段
func (j *ForwardJob) Flatten() (map[string]interface{}, error) {
	fields := map[string]interface{}{
		"job_id":         j.JobID,
		"type":           string(j.Type),
		"category":       j.Category,
		"source_channel": j.SourceChannelID,
		"source_name":    j.SourceChannelName,
		"ts":             j.SourceTS,
		"target_channel": j.TargetChannelID,
		"sender":         j.Sender,
		"text":           j.Text,
		"bot_id":         strconv.Itoa(j.BotID),
		"attempt_count":  strconv.Itoa(j.AttemptCount),
		"enqueued_at":    j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.ThreadTS != "" {
		fields["thread_ts"] = j.ThreadTS
	}
	if j.IsThreadReply {
		fields["is_thread_reply"] = "1"
	}
	if len(j.Files) > 0 {
		raw, err := json.Marshal(j.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job files: %w", err)
		}
		fields["files"] = string(raw)
	}
	return fields, nil
}

// UnflattenJob 从 Stream 扁平字段还原任务
func UnflattenJob(fields map[string]interface{}) (*ForwardJob, error) {
	get := func(key string) string {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	job := &ForwardJob{
		JobID:             get("job_id"),
		Type:              JobType(get("type")),
		Category:          get("category"),
		SourceChannelID:   get("source_channel"),
		SourceChannelName: get("source_name"),
		SourceTS:          get("ts"),
		ThreadTS:          get("thread_ts"),
		IsThreadReply:     get("is_thread_reply") == "1",
		TargetChannelID:   get("target_channel"),
		Sender:            get("sender"),
		Text:              get("text"),
	}

	switch job.Type {
	case JobPost, JobUpdate:
	default:
		return nil, fmt.Errorf("unknown job type: %q", get("type"))
	}
	if job.SourceChannelID == "" || job.SourceTS == "" || job.TargetChannelID == "" {
		return nil, fmt.Errorf("job %s missing required coordinates", job.JobID)
	}

	if s := get("bot_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bot_id %q: %w", s, err)
		}
		job.BotID = id
	} else {
		job.BotID = 1
	}

	if s := get("attempt_count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt_count %q: %w", s, err)
		}
		job.AttemptCount = n
	}

	if s := get("enqueued_at"); s != "" {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("invalid enqueued_at %q: %w", s, err)
		}
		job.EnqueuedAt = ts
	}

	if raw := get("files"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job files: %w", err)
		}
	}

	return job, nil
}
