package models

import (
	"testing"
	"time"
)

func TestForwardJobFlattenRoundTrip(t *testing.T) {
	enqueued := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)
	job := &ForwardJob{
		JobID:             "7f6c9e0a",
		Type:              JobPost,
		Category:          "agent",
		SourceChannelID:   "C0AGENT01",
		SourceChannelName: "acme-agent",
		SourceTS:          "1741964966.000100",
		ThreadTS:          "1741964900.000010",
		IsThreadReply:     true,
		TargetChannelID:   "CMASTER01",
		Sender:            "U012345",
		Text:              "escalating ticket #42",
		Files: []FileRef{
			{ID: "F001", Name: "screenshot.png", DownloadURL: "https://files.example/F001", Size: 2048},
		},
		BotID:        3,
		AttemptCount: 2,
		EnqueuedAt:   enqueued,
	}

	fields, err := job.Flatten()
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	// Stream 字段只接受字符串，模拟 go-redis 的解码结果
	decoded := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			t.Fatalf("field %s is not a string: %#v", k, v)
		}
		decoded[k] = s
	}

	got, err := UnflattenJob(decoded)
	if err != nil {
		t.Fatalf("UnflattenJob failed: %v", err)
	}

	if got.JobID != job.JobID || got.Type != job.Type || got.Category != job.Category {
		t.Fatalf("unexpected identity fields: %#v", got)
	}
	if got.SourceChannelID != job.SourceChannelID || got.SourceTS != job.SourceTS {
		t.Fatalf("unexpected source coordinates: %#v", got)
	}
	if got.ThreadTS != job.ThreadTS || !got.IsThreadReply {
		t.Fatalf("thread fields lost: %#v", got)
	}
	if got.BotID != 3 || got.AttemptCount != 2 {
		t.Fatalf("unexpected numeric fields: bot=%d attempts=%d", got.BotID, got.AttemptCount)
	}
	if !got.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("unexpected enqueued_at: %v", got.EnqueuedAt)
	}
	if len(got.Files) != 1 || got.Files[0].DownloadURL != "https://files.example/F001" {
		t.Fatalf("files lost in round trip: %#v", got.Files)
	}
}

func TestUnflattenJobOmitsOptionalFields(t *testing.T) {
	fields := map[string]interface{}{
		"job_id":         "a1",
		"type":           "update",
		"source_channel": "C1",
		"ts":             "1.0",
		"target_channel": "C2",
		"text":           "edited",
	}

	job, err := UnflattenJob(fields)
	if err != nil {
		t.Fatalf("UnflattenJob failed: %v", err)
	}
	if job.ThreadTS != "" || job.IsThreadReply || len(job.Files) != 0 {
		t.Fatalf("expected empty optional fields: %#v", job)
	}
	if job.BotID != 1 {
		t.Fatalf("expected bot_id fallback to 1, got %d", job.BotID)
	}
}

func TestUnflattenJobRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{
			name:   "unknown type",
			fields: map[string]interface{}{"type": "recall", "source_channel": "C1", "ts": "1.0", "target_channel": "C2"},
		},
		{
			name:   "missing source",
			fields: map[string]interface{}{"type": "post", "ts": "1.0", "target_channel": "C2"},
		},
		{
			name:   "bad bot_id",
			fields: map[string]interface{}{"type": "post", "source_channel": "C1", "ts": "1.0", "target_channel": "C2", "bot_id": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnflattenJob(tt.fields); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name:  "valid new message",
			event: Event{Kind: EventNewMessage, ChannelID: "C1", Timestamp: "1.0", ClientMsgID: "m1"},
		},
		{
			name:  "valid edit with event id only",
			event: Event{Kind: EventEditMessage, ChannelID: "C1", Timestamp: "1.0", EventID: "Ev1"},
		},
		{
			name:    "unknown kind",
			event:   Event{Kind: "reaction", ChannelID: "C1", Timestamp: "1.0", EventID: "Ev1"},
			wantErr: true,
		},
		{
			name:    "missing channel",
			event:   Event{Kind: EventNewMessage, Timestamp: "1.0", EventID: "Ev1"},
			wantErr: true,
		},
		{
			name:    "no dedupe identity",
			event:   Event{Kind: EventNewMessage, ChannelID: "C1", Timestamp: "1.0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventIsThreadReply(t *testing.T) {
	parent := Event{Kind: EventNewMessage, ChannelID: "C1", Timestamp: "2.0", ThreadTimestamp: "2.0"}
	if parent.IsThreadReply() {
		t.Fatalf("thread parent must not count as a reply")
	}

	reply := Event{Kind: EventNewMessage, ChannelID: "C1", Timestamp: "3.0", ThreadTimestamp: "2.0"}
	if !reply.IsThreadReply() {
		t.Fatalf("expected thread reply")
	}
}
