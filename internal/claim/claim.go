package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relay_bot/internal/relay/models"
)

// Outcome claim 结果
type Outcome int

const (
	// Lost 其他进程已持有该事件，或 store 不可达（fail closed）
	Lost Outcome = iota
	// Won 当前进程独占该事件的处理权
	Won
)

// ErrStoreUnavailable Claim Store 不可达
// 设计取舍：此时宁可漏转也不冒重复转发的风险，事件按 Lost 处理
var ErrStoreUnavailable = errors.New("claim store unavailable")

// Store Claim Store 需要的最小原子原语
// create-if-absent 必须在存储端原子完成，这是系统唯一的互斥机制
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Claimer 跨进程 FCFS claim
// 同一 workspace 会把同一逻辑事件投递给多个 bot 订阅，
// 上游重试也可能以不同的包装时间戳重发同一消息，claim 在两种情况下都只放行一个处理者
type Claimer struct {
	store Store
	ttl   time.Duration
	botID int
	now   func() time.Time
}

// New 创建 Claimer
// ttl 限定 claim 记录的生命周期，窗口之外的真实重投按新消息处理（接受的近似）
func New(store Store, ttl time.Duration, botID int) *Claimer {
	return &Claimer{
		store: store,
		ttl:   ttl,
		botID: botID,
		now:   time.Now,
	}
}

// Key 推导去重键
// 优先使用发送端分配的 client_msg_id；缺失时退回平台的每次投递 event_id
// 永不使用消息 ts：编辑和重投都可能改变或复制它
func Key(ev *models.Event) string {
	identifier := ev.ClientMsgID
	if identifier == "" {
		identifier = ev.EventID
	}

	if ev.Kind == models.EventEditMessage {
		return fmt.Sprintf("fcfs:edit:%s:%s", ev.ChannelID, identifier)
	}
	return fmt.Sprintf("fcfs:msg:%s:%s", ev.ChannelID, identifier)
}

// TryClaim 对事件做原子 create-if-absent claim
// 所有 listener 进程中恰有一个得到 Won；store 不可达时返回 Lost 和 ErrStoreUnavailable
func (c *Claimer) TryClaim(ctx context.Context, ev *models.Event) (Outcome, error) {
	key := Key(ev)
	value := fmt.Sprintf("bot-%d@%d", c.botID, c.now().Unix())

	ok, err := c.store.SetNX(ctx, key, value, c.ttl).Result()
	if err != nil {
		return Lost, fmt.Errorf("%w: SET NX %s: %v", ErrStoreUnavailable, key, err)
	}
	if !ok {
		return Lost, nil
	}
	return Won, nil
}
