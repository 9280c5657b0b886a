package assign

import (
	"fmt"
	"sort"
	"sync"

	"relay_bot/internal/logger"
)

// Engine 频道到 bot 的分配引擎
// 已有分配永不重算：bot 集合变化只影响新频道，不触发存量迁移
// 写入方只有 discovery 路径（单写者），listener 侧只读
type Engine struct {
	store    *FileStore
	botIDs   []int
	replicas int

	mu          sync.RWMutex
	assignments map[string]int
}

// Stats 分配统计
type Stats struct {
	TotalBots     int
	TotalChannels int
	PerBot        map[int]int
}

// NewEngine 创建分配引擎并加载持久化的分配
// 存储损坏时从空分配启动，所有频道视为新频道（full-rebalance，显式落日志）
func NewEngine(store *FileStore, botIDs []int, replicas int) *Engine {
	loaded, err := store.Load()
	if err != nil {
		logger.L().Warnf("Assignment store unreadable, starting full rebalance: %v", err)
	}

	ids := append([]int(nil), botIDs...)
	sort.Ints(ids)

	return &Engine{
		store:       store,
		botIDs:      ids,
		replicas:    replicas,
		assignments: loaded.Assignments,
	}
}

// Assign 为未分配的频道选择 bot 并持久化
// 返回 bot_id -> 本次调用新分配的频道，已有分配不出现在结果里
func (e *Engine) Assign(channelIDs []string) (map[int][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ring := NewRing(e.botIDs, e.replicas)
	added := make(map[int][]string)

	for _, channelID := range channelIDs {
		if _, ok := e.assignments[channelID]; ok {
			continue
		}
		botID, ok := ring.Locate(channelID)
		if !ok {
			return nil, fmt.Errorf("no bots available for assignment")
		}
		e.assignments[channelID] = botID
		added[botID] = append(added[botID], channelID)
	}

	if len(added) > 0 {
		newCount := 0
		for _, chs := range added {
			newCount += len(chs)
		}
		logger.L().Infof("Assigned %d new channels (%d total)", newCount, len(e.assignments))
		if err := e.store.Save(e.snapshotLocked()); err != nil {
			return nil, fmt.Errorf("failed to persist channel assignments: %w", err)
		}
	}

	return added, nil
}

// BotFor 查询频道的归属 bot
func (e *Engine) BotFor(channelID string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.assignments[channelID]
	return id, ok
}

// ChannelsFor 返回分配给指定 bot 的全部频道
func (e *Engine) ChannelsFor(botID int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var channels []string
	for channelID, id := range e.assignments {
		if id == botID {
			channels = append(channels, channelID)
		}
	}
	sort.Strings(channels)
	return channels
}

// Stats 返回每个 bot 的频道数统计
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		TotalBots:     len(e.botIDs),
		TotalChannels: len(e.assignments),
		PerBot:        make(map[int]int, len(e.botIDs)),
	}
	for _, id := range e.botIDs {
		stats.PerBot[id] = 0
	}
	for _, id := range e.assignments {
		stats.PerBot[id]++
	}
	return stats
}

// Reload 重新加载持久化分配（listener 在每个 discovery 周期调用）
func (e *Engine) Reload() error {
	loaded, err := e.store.Load()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.assignments = loaded.Assignments
	e.mu.Unlock()
	return nil
}

// snapshotLocked 构造当前分配的持久化文档，调用方需持有锁
func (e *Engine) snapshotLocked() *Assignment {
	assignments := make(map[string]int, len(e.assignments))
	for k, v := range e.assignments {
		assignments[k] = v
	}
	return &Assignment{
		Metadata: Metadata{
			TotalBots:     len(e.botIDs),
			TotalChannels: len(assignments),
			BotIDs:        append([]int(nil), e.botIDs...),
		},
		Assignments: assignments,
	}
}
