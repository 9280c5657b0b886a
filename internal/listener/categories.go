package listener

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"relay_bot/internal/logger"
)

// 消息分类
const (
	CategoryAgent        = "agent"
	CategoryApptbk       = "apptbk"
	CategoryManagedAdmin = "managed_admin"
	CategoryStormAdmin   = "storm_admin"
)

// 固定忽略的频道名（内部协调频道，永不转发）
var builtinIgnoredNames = map[string]struct{}{
	"ccdocs-agents":             {},
	"ccdocs-admin":              {},
	"ccdocs-apptbk":             {},
	"ccdocs-dialer":             {},
	"building-universal-agents": {},
	"master-agent":              {},
	"master-admin-storm":        {},
}

type channelLists struct {
	Managed map[string]struct{}
	Storm   map[string]struct{}
	Ignored map[string]struct{}
}

type channelListsFile struct {
	ManagedChannels []string `json:"managed_channels"`
	StormChannels   []string `json:"storm_channels"`
	IgnoredChannels []string `json:"ignored_channels"`
}

// Categories 频道分类表
// 从 channel_lists.json 加载，支持 fsnotify 热更新；并发读安全
type Categories struct {
	path string

	mu    sync.RWMutex
	lists channelLists
}

// LoadCategories 加载分类表
// 文件缺失时使用默认分类并告警，不视为错误
func LoadCategories(path string) *Categories {
	c := &Categories{path: path}
	if err := c.Reload(); err != nil {
		logger.L().Warnf("Failed to load channel lists from %s: %v, using defaults", path, err)
	}
	return c
}

// Reload 重新读取分类文件
func (c *Categories) Reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Warnf("Channel lists file %s not found, using default categorizations", c.path)
			c.swap(defaultLists())
			return nil
		}
		return err
	}

	var file channelListsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return err
	}

	lists := channelLists{
		Managed: toSet(file.ManagedChannels),
		Storm:   toSet(file.StormChannels),
		Ignored: toSet(file.IgnoredChannels),
	}
	c.swap(lists)

	logger.L().Infof("Channel lists loaded: %d managed, %d storm, %d ignored",
		len(lists.Managed), len(lists.Storm), len(lists.Ignored))
	return nil
}

func (c *Categories) swap(lists channelLists) {
	c.mu.Lock()
	c.lists = lists
	c.mu.Unlock()
}

func defaultLists() channelLists {
	return channelLists{
		Managed: map[string]struct{}{},
		Storm:   map[string]struct{}{},
		Ignored: map[string]struct{}{
			"ccdocs-admin": {},
			"test-admins":  {},
		},
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Ignored 频道是否在忽略列表中（内置列表或配置文件）
func (c *Categories) Ignored(channelName string) bool {
	if _, ok := builtinIgnoredNames[channelName]; ok {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.lists.Ignored[channelName]
	return ok
}

// Classify 按频道名后缀判定分类
// admin 后缀的频道必须出现在 managed/storm 列表之一，否则视为未知并跳过
func (c *Categories) Classify(channelName string) (string, bool) {
	if strings.HasSuffix(channelName, "-apptbk") {
		return CategoryApptbk, true
	}
	if strings.HasSuffix(channelName, "-admin") || strings.HasSuffix(channelName, "-admins") {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if _, ok := c.lists.Managed[channelName]; ok {
			return CategoryManagedAdmin, true
		}
		if _, ok := c.lists.Storm[channelName]; ok {
			return CategoryStormAdmin, true
		}
		return "", false
	}
	if strings.HasSuffix(channelName, "-agent") || strings.HasSuffix(channelName, "-agents") {
		return CategoryAgent, true
	}
	return "", false
}

// Watch 监听分类文件变更并去抖后重载，ctx 取消时停止
func (c *Categories) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.path); err != nil {
		logger.L().Warnf("Watch add %s: %v", c.path, err)
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						logger.L().Warnf("Watch re-add %s: %v", ev.Name, err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := c.Reload(); err != nil {
					logger.L().Errorf("Channel lists reload failed: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.L().Errorf("Channel lists watch error: %v", err)
			}
		}
	}()
	return nil
}
