package slackapi

import (
	"context"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"relay_bot/internal/logger"
	"relay_bot/internal/relay/models"
)

// EventHandler 规范化事件的处理回调
type EventHandler func(ctx context.Context, ev *models.Event)

// SocketRunner Socket Mode 事件循环
// 负责连接维护、ack 和事件规范化；业务处理交给 handler
type SocketRunner struct {
	client  *socketmode.Client
	handler EventHandler
}

// NewSocketRunner 创建 socket 事件循环
func NewSocketRunner(c *Client, handler EventHandler) *SocketRunner {
	return &SocketRunner{
		client:  socketmode.New(c.API()),
		handler: handler,
	}
}

// Run 运行事件循环直到 ctx 取消
func (r *SocketRunner) Run(ctx context.Context) error {
	go r.consume(ctx)
	return r.client.RunContext(ctx)
}

func (r *SocketRunner) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.client.Events:
			if !ok {
				return
			}
			r.dispatch(ctx, evt)
		}
	}
}

func (r *SocketRunner) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		logger.L().Info("Connecting to Slack in Socket Mode...")
	case socketmode.EventTypeConnected:
		logger.L().Info("Connected to Slack")
	case socketmode.EventTypeConnectionError:
		logger.L().Warnf("Socket Mode connection error: %v", evt.Data)

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// 先 ack 再处理：claim 层负责去重，慢处理不能阻塞投递确认
		if evt.Request != nil {
			r.client.Ack(*evt.Request)
		}
		r.handleEventsAPI(ctx, apiEvent)
	}
}

func (r *SocketRunner) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	eventID := ""
	if cb, ok := apiEvent.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	msgEvent, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	ev := NormalizeMessageEvent(msgEvent, eventID)
	if ev == nil {
		return
	}
	if err := ev.Validate(); err != nil {
		logger.L().Debugf("Dropping invalid event: %v", err)
		return
	}

	r.handler(ctx, ev)
}
