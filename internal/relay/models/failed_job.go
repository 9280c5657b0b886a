package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FailedJob 重试耗尽后的终态任务归档
// 不会被自动重试，保留完整上下文供人工重放
type FailedJob struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	JobID             string             `bson:"job_id"`
	Type              string             `bson:"type"`
	Category          string             `bson:"category"`
	SourceChannelID   string             `bson:"source_channel_id"`
	SourceChannelName string             `bson:"source_channel_name"`
	SourceTS          string             `bson:"source_ts"`
	ThreadTS          string             `bson:"thread_ts,omitempty"`
	TargetChannelID   string             `bson:"target_channel_id"`
	Sender            string             `bson:"sender"`
	Text              string             `bson:"text"`
	BotID             int                `bson:"bot_id"`
	AttemptCount      int                `bson:"attempt_count"`
	Reason            string             `bson:"reason"`
	FailedAt          time.Time          `bson:"failed_at"`
}

// NewFailedJob 从任务构造归档记录
func NewFailedJob(job *ForwardJob, reason string) *FailedJob {
	return &FailedJob{
		JobID:             job.JobID,
		Type:              string(job.Type),
		Category:          job.Category,
		SourceChannelID:   job.SourceChannelID,
		SourceChannelName: job.SourceChannelName,
		SourceTS:          job.SourceTS,
		ThreadTS:          job.ThreadTS,
		TargetChannelID:   job.TargetChannelID,
		Sender:            job.Sender,
		Text:              job.Text,
		BotID:             job.BotID,
		AttemptCount:      job.AttemptCount,
		Reason:            reason,
		FailedAt:          time.Now().UTC(),
	}
}
