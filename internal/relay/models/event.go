package models

import "fmt"

// EventKind 入站事件类型
type EventKind string

const (
	EventNewMessage  EventKind = "new_message"
	EventEditMessage EventKind = "edit_message"
)

// Event 入站消息事件（socket 层解析后的规范化结构）
// 在进入 claim/queue 流水线之前必须通过 Validate 校验
type Event struct {
	Kind            EventKind
	ChannelID       string    // 来源频道 ID
	Timestamp       string    // 消息时间戳（编辑事件为被编辑消息的 ts）
	ThreadTimestamp string    // 线程父消息 ts，可选
	ClientMsgID     string    // 发送端分配的消息 ID，可选
	EventID         string    // 平台每次投递分配的事件 ID
	User            string    // 发送者用户 ID
	BotAuthorID     string    // 非空表示 bot 发出的消息
	Text            string
	Files           []FileRef
}

// FileRef 附件描述，下载需使用所属 bot 的凭证
type FileRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
	Size        int    `json:"size"`
}

// IsThreadReply 是否为线程回复（父消息 ts 存在且不等于自身）
func (e *Event) IsThreadReply() bool {
	return e.ThreadTimestamp != "" && e.ThreadTimestamp != e.Timestamp
}

// FromBot 是否为 bot 发出的消息
func (e *Event) FromBot() bool {
	return e.BotAuthorID != ""
}

// Validate 校验必填字段
func (e *Event) Validate() error {
	switch e.Kind {
	case EventNewMessage, EventEditMessage:
	default:
		return fmt.Errorf("unknown event kind: %q", e.Kind)
	}
	if e.ChannelID == "" {
		return fmt.Errorf("event missing channel id")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("event missing timestamp")
	}
	if e.ClientMsgID == "" && e.EventID == "" {
		return fmt.Errorf("event carries neither client_msg_id nor event_id")
	}
	return nil
}

// Sender 返回用于展示的发送者标识
func (e *Event) Sender() string {
	if e.User != "" {
		return e.User
	}
	if e.BotAuthorID != "" {
		return e.BotAuthorID
	}
	return "unknown"
}
