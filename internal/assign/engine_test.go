package assign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "channel_assignment.json"))
}

func channelIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("C%06d", i)
	}
	return ids
}

func TestAssignPlacesEachNewChannelOnExactlyOneBot(t *testing.T) {
	engine := NewEngine(tempStore(t), []int{1, 2, 3}, 0)

	channels := channelIDs(300)
	result, err := engine.Assign(channels)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	seen := map[string]int{}
	for botID, chs := range result {
		for _, ch := range chs {
			seen[ch]++
			got, ok := engine.BotFor(ch)
			if !ok || got != botID {
				t.Fatalf("BotFor(%s) = %d,%v, want %d", ch, got, ok, botID)
			}
		}
	}
	for _, ch := range channels {
		if seen[ch] != 1 {
			t.Fatalf("channel %s assigned %d times", ch, seen[ch])
		}
	}
}

func TestAssignNeverMovesExistingChannels(t *testing.T) {
	store := tempStore(t)
	channels := channelIDs(200)

	engine := NewEngine(store, []int{1, 2}, 0)
	if _, err := engine.Assign(channels); err != nil {
		t.Fatalf("initial Assign failed: %v", err)
	}

	before := map[string]int{}
	for _, ch := range channels {
		id, ok := engine.BotFor(ch)
		if !ok {
			t.Fatalf("channel %s unassigned after Assign", ch)
		}
		before[ch] = id
	}

	// 模拟重启并扩容 bot 集合：存量绑定必须原样保留
	grown := NewEngine(store, []int{1, 2, 3, 4}, 0)
	extra := []string{"CNEW0001", "CNEW0002", "CNEW0003"}
	if _, err := grown.Assign(append(append([]string(nil), channels...), extra...)); err != nil {
		t.Fatalf("Assign after growth failed: %v", err)
	}

	for _, ch := range channels {
		id, ok := grown.BotFor(ch)
		if !ok || id != before[ch] {
			t.Fatalf("channel %s moved from bot %d to %d after bot-set change", ch, before[ch], id)
		}
	}
	for _, ch := range extra {
		if _, ok := grown.BotFor(ch); !ok {
			t.Fatalf("new channel %s not assigned", ch)
		}
	}
}

func TestAssignRepeatedCallsAreStable(t *testing.T) {
	engine := NewEngine(tempStore(t), []int{1, 2, 3}, 0)
	channels := channelIDs(50)

	first, err := engine.Assign(channels)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	before := map[string]int{}
	for _, ch := range channels {
		id, _ := engine.BotFor(ch)
		before[ch] = id
	}

	// 重复调用不产生新分配，存量绑定保持不变
	second, err := engine.Assign(channels)
	if err != nil {
		t.Fatalf("repeat Assign failed: %v", err)
	}
	for botID, chs := range second {
		if len(chs) != 0 {
			t.Fatalf("repeat Assign reported %d channels as new for bot %d", len(chs), botID)
		}
	}
	for _, ch := range channels {
		if id, _ := engine.BotFor(ch); id != before[ch] {
			t.Fatalf("channel %s moved between identical calls", ch)
		}
	}
	if len(first) == 0 {
		t.Fatalf("first Assign reported no new channels")
	}
}

func TestRingDistributionIsReasonablyFlat(t *testing.T) {
	ring := NewRing([]int{1, 2, 3, 4}, DefaultReplicas)

	counts := map[int]int{}
	for _, ch := range channelIDs(4000) {
		botID, ok := ring.Locate(ch)
		if !ok {
			t.Fatalf("Locate failed for %s", ch)
		}
		counts[botID]++
	}

	// 每个 bot 期望约 1000；虚拟节点下偏差应在 ±50% 以内
	for botID, n := range counts {
		if n < 500 || n > 1500 {
			t.Fatalf("bot %d has badly skewed share: %d/4000", botID, n)
		}
	}
}

func TestNewEngineStartsEmptyOnCorruptStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel_assignment.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	engine := NewEngine(NewFileStore(path), []int{1, 2}, 0)
	if stats := engine.Stats(); stats.TotalChannels != 0 {
		t.Fatalf("expected empty assignment after corrupt load, got %d channels", stats.TotalChannels)
	}

	// 空启动后仍可正常分配并覆盖损坏文件
	if _, err := engine.Assign([]string{"C1", "C2"}); err != nil {
		t.Fatalf("Assign after corrupt load failed: %v", err)
	}
}

func TestFileStorePersistedFormat(t *testing.T) {
	store := tempStore(t)
	engine := NewEngine(store, []int{1, 2}, 0)
	if _, err := engine.Assign([]string{"CA", "CB", "CC"}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	data, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatalf("failed to read persisted file: %v", err)
	}

	var doc struct {
		Metadata struct {
			TotalBots     int   `json:"total_bots"`
			TotalChannels int   `json:"total_channels"`
			BotIDs        []int `json:"bot_ids"`
		} `json:"metadata"`
		Assignments map[string]int `json:"assignments"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("persisted file is not valid JSON: %v", err)
	}
	if doc.Metadata.TotalBots != 2 || doc.Metadata.TotalChannels != 3 {
		t.Fatalf("unexpected metadata: %+v", doc.Metadata)
	}
	if len(doc.Assignments) != 3 {
		t.Fatalf("unexpected assignments: %+v", doc.Assignments)
	}
}

func TestStats(t *testing.T) {
	engine := NewEngine(tempStore(t), []int{1, 2, 3}, 0)
	if _, err := engine.Assign(channelIDs(90)); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	stats := engine.Stats()
	if stats.TotalBots != 3 || stats.TotalChannels != 90 {
		t.Fatalf("unexpected totals: %+v", stats)
	}

	sum := 0
	for _, n := range stats.PerBot {
		sum += n
	}
	if sum != 90 {
		t.Fatalf("per-bot counts do not sum to total: %d", sum)
	}
}

func TestReloadPicksUpExternalWrites(t *testing.T) {
	store := tempStore(t)

	writer := NewEngine(store, []int{1, 2}, 0)
	if _, err := writer.Assign([]string{"CX"}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	reader := NewEngine(store, []int{1, 2}, 0)
	if _, err := writer.Assign([]string{"CY"}); err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}

	if _, ok := reader.BotFor("CY"); ok {
		t.Fatalf("reader saw CY before Reload")
	}
	if err := reader.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if _, ok := reader.BotFor("CY"); !ok {
		t.Fatalf("reader missing CY after Reload")
	}
}
