package slackapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"relay_bot/internal/config"
)

// RateLimitedError 上游限流响应
// RetryAfter 为服务端给出的重试延迟；为 0 表示未提供提示
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// RetryAfter 提取限流错误的服务端重试提示
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// ChannelInfo 频道元信息（discovery 用）
type ChannelInfo struct {
	ID         string
	Name       string
	IsPrivate  bool
	IsArchived bool
	NumMembers int
}

// Client 单个 bot 身份的 Slack 客户端封装
// 出站调用统一把 slack 库的限流错误转换为 *RateLimitedError
type Client struct {
	api   *slack.Client
	botID int
}

// New 用 bot 凭证创建客户端
func New(creds config.BotCredentials) *Client {
	api := slack.New(creds.BotToken, slack.OptionAppLevelToken(creds.AppToken))
	return &Client{api: api, botID: creds.ID}
}

// BotID 返回该客户端所属的 bot ID
func (c *Client) BotID() int { return c.botID }

// API 返回底层 slack 客户端（socket runner 用）
func (c *Client) API() *slack.Client { return c.api }

// PostMessage 发送消息，threadTS 非空时作为线程回复
// 返回新消息的时间戳
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", wrapErr(err)
	}
	return ts, nil
}

// UpdateMessage 原地更新已发送的消息
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

// UploadFile 上传附件到目标频道
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, content []byte) error {
	_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:  channelID,
		Filename: filename,
		FileSize: len(content),
		Reader:   bytes.NewReader(content),
	})
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

// FetchFile 用本 bot 的凭证下载源附件字节
func (c *Client) FetchFile(ctx context.Context, downloadURL string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, downloadURL, &buf); err != nil {
		return nil, wrapErr(err)
	}
	return buf.Bytes(), nil
}

// FetchMessage 读取源频道中指定 ts 的消息（补发线程父消息用）
func (c *Client) FetchMessage(ctx context.Context, channelID, ts string) (text, user string, err error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    ts,
		Limit:     1,
		Inclusive: true,
	})
	if err != nil {
		return "", "", wrapErr(err)
	}
	if len(resp.Messages) == 0 {
		return "", "", fmt.Errorf("message %s not found in %s", ts, channelID)
	}

	msg := resp.Messages[0]
	return msg.Text, msg.User, nil
}

// GetChannelName 查询频道名
func (c *Client) GetChannelName(ctx context.Context, channelID string) (string, error) {
	info, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return info.Name, nil
}

// ListChannels 分页枚举 workspace 的全部频道（公开+私有）
func (c *Client) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	var all []ChannelInfo
	cursor := ""

	for {
		channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:  []string{"public_channel", "private_channel"},
			Limit:  1000,
			Cursor: cursor,
		})
		if err != nil {
			return nil, wrapErr(err)
		}

		for _, ch := range channels {
			all = append(all, ChannelInfo{
				ID:         ch.ID,
				Name:       ch.Name,
				IsPrivate:  ch.IsPrivate,
				IsArchived: ch.IsArchived,
				NumMembers: ch.NumMembers,
			})
		}

		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func wrapErr(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &RateLimitedError{RetryAfter: rl.RetryAfter}
	}
	return err
}
