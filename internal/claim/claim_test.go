package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"relay_bot/internal/relay/models"
)

// fakeStore agrees with Redis SET NX EX semantics, including TTL expiry
// against an adjustable clock.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	now     time.Time
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: map[string]time.Time{},
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}

	if expiry, ok := f.entries[key]; ok && f.now.Before(expiry) {
		return redis.NewBoolResult(false, nil)
	}
	f.entries[key] = f.now.Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func newMessageEvent() *models.Event {
	return &models.Event{
		Kind:        models.EventNewMessage,
		ChannelID:   "C0SOURCE1",
		Timestamp:   "1741964966.000100",
		ClientMsgID: "3f1a7c22-9b0e-4d70-8a3c-5a1d9b1f0e11",
		EventID:     "Ev06AB12CD34",
		User:        "U012345",
		Text:        "hello",
	}
}

func TestTryClaimExactlyOneWinnerUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	ev := newMessageEvent()

	const callers = 16
	outcomes := make(chan Outcome, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(botID int) {
			defer wg.Done()
			c := New(store, 5*time.Minute, botID)
			outcome, err := c.TryClaim(context.Background(), ev)
			if err != nil {
				t.Errorf("TryClaim error: %v", err)
			}
			outcomes <- outcome
		}(i + 1)
	}
	wg.Wait()
	close(outcomes)

	won := 0
	for outcome := range outcomes {
		if outcome == Won {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one Won, got %d", won)
	}
}

func TestTryClaimExpiredRecordIsClaimableAgain(t *testing.T) {
	store := newFakeStore()
	c := New(store, 5*time.Minute, 1)
	ev := newMessageEvent()

	if outcome, err := c.TryClaim(context.Background(), ev); err != nil || outcome != Won {
		t.Fatalf("first claim: outcome=%v err=%v", outcome, err)
	}
	if outcome, err := c.TryClaim(context.Background(), ev); err != nil || outcome != Lost {
		t.Fatalf("claim inside TTL: outcome=%v err=%v", outcome, err)
	}

	// TTL 过后同一去重键可被再次 claim（文档化的重复窗口，不是 bug）
	store.advance(5*time.Minute + time.Second)
	if outcome, err := c.TryClaim(context.Background(), ev); err != nil || outcome != Won {
		t.Fatalf("claim after TTL expiry: outcome=%v err=%v", outcome, err)
	}
}

func TestTryClaimFailsClosedWhenStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")

	c := New(store, 5*time.Minute, 1)
	outcome, err := c.TryClaim(context.Background(), newMessageEvent())

	if outcome != Lost {
		t.Fatalf("expected Lost on store outage, got %v", outcome)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestKeyDerivation(t *testing.T) {
	tests := []struct {
		name  string
		event models.Event
		want  string
	}{
		{
			name: "prefers client_msg_id",
			event: models.Event{
				Kind: models.EventNewMessage, ChannelID: "C1",
				ClientMsgID: "cm-1", EventID: "Ev1", Timestamp: "9.0",
			},
			want: "fcfs:msg:C1:cm-1",
		},
		{
			name: "falls back to event_id",
			event: models.Event{
				Kind: models.EventNewMessage, ChannelID: "C1",
				EventID: "Ev1", Timestamp: "9.0",
			},
			want: "fcfs:msg:C1:Ev1",
		},
		{
			name: "edit events use a separate key space",
			event: models.Event{
				Kind: models.EventEditMessage, ChannelID: "C1",
				ClientMsgID: "cm-1", Timestamp: "9.0",
			},
			want: "fcfs:edit:C1:cm-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(&tt.event); got != tt.want {
				t.Fatalf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyNeverUsesTimestamp(t *testing.T) {
	a := newMessageEvent()
	b := newMessageEvent()
	b.Timestamp = "9999999999.999999" // retried delivery with rewritten ts

	if Key(a) != Key(b) {
		t.Fatalf("dedupe key must not depend on the message timestamp")
	}
}
