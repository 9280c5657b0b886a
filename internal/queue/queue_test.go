package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"relay_bot/internal/relay/models"
)

type fakeStream struct {
	added      []*redis.XAddArgs
	addErr     error
	groupErr   error
	readResult []redis.XStream
	readErr    error
	acked      []string
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1741964966-0", nil)
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	return redis.NewXStreamSliceCmdResult(f.readResult, f.readErr)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func testJob() *models.ForwardJob {
	return &models.ForwardJob{
		JobID:           "j1",
		Type:            models.JobPost,
		Category:        "agent",
		SourceChannelID: "C1",
		SourceTS:        "1.0",
		TargetChannelID: "C2",
		Sender:          "U1",
		Text:            "hi",
		BotID:           1,
		EnqueuedAt:      time.Now().UTC(),
	}
}

func TestEnsureGroupToleratesExistingGroup(t *testing.T) {
	store := &fakeStream{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	q := New(store, "worker-1")
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup should ignore BUSYGROUP: %v", err)
	}

	store.groupErr = errors.New("connection refused")
	if err := q.EnsureGroup(context.Background()); err == nil {
		t.Fatalf("expected error for non-BUSYGROUP failure")
	}
}

func TestEnqueueCapsStreamLength(t *testing.T) {
	store := &fakeStream{}
	q := New(store, "worker-1")

	id, err := q.Enqueue(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected stream entry id")
	}

	if len(store.added) != 1 {
		t.Fatalf("expected one XADD, got %d", len(store.added))
	}
	args := store.added[0]
	if args.Stream != StreamJobs || args.MaxLen != maxStreamLen || !args.Approx {
		t.Fatalf("unexpected XADD args: %+v", args)
	}
}

func TestDequeueDecodesJobs(t *testing.T) {
	fields, err := testJob().Flatten()
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	store := &fakeStream{
		readResult: []redis.XStream{{
			Stream: StreamJobs,
			Messages: []redis.XMessage{
				{ID: "100-0", Values: fields},
				{ID: "100-1", Values: map[string]interface{}{"type": "bogus"}},
			},
		}},
	}
	q := New(store, "worker-1")

	deliveries, err := q.Dequeue(context.Background(), 10, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected one decodable delivery, got %d", len(deliveries))
	}
	if deliveries[0].ID != "100-0" || deliveries[0].Job.JobID != "j1" {
		t.Fatalf("unexpected delivery: %+v", deliveries[0])
	}

	// poison entry 被直接 Ack 丢弃
	if len(store.acked) != 1 || store.acked[0] != "100-1" {
		t.Fatalf("expected poison entry acked, got %v", store.acked)
	}
}

func TestDequeueReturnsEmptyOnBlockTimeout(t *testing.T) {
	store := &fakeStream{readErr: redis.Nil}
	q := New(store, "worker-1")

	deliveries, err := q.Dequeue(context.Background(), 10, time.Second)
	if err != nil {
		t.Fatalf("expected nil error on redis.Nil, got %v", err)
	}
	if deliveries != nil {
		t.Fatalf("expected no deliveries, got %v", deliveries)
	}
}
