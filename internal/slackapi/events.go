package slackapi

import (
	"github.com/slack-go/slack/slackevents"

	"relay_bot/internal/relay/models"
)

// NormalizeMessageEvent 把平台的 message 事件转换为规范化事件
// 仅保留新消息和编辑两种类型；加入/离开/删除等子类型返回 nil
func NormalizeMessageEvent(ev *slackevents.MessageEvent, eventID string) *models.Event {
	if ev == nil {
		return nil
	}

	switch ev.SubType {
	case "":
		return &models.Event{
			Kind:            models.EventNewMessage,
			ChannelID:       ev.Channel,
			Timestamp:       ev.TimeStamp,
			ThreadTimestamp: ev.ThreadTimeStamp,
			ClientMsgID:     ev.ClientMsgID,
			EventID:         eventID,
			User:            ev.User,
			BotAuthorID:     ev.BotID,
			Text:            ev.Text,
			Files:           normalizeFiles(ev.Files),
		}

	case "file_share":
		// 附件消息与普通消息同构，走同一条转发路径
		return &models.Event{
			Kind:            models.EventNewMessage,
			ChannelID:       ev.Channel,
			Timestamp:       ev.TimeStamp,
			ThreadTimestamp: ev.ThreadTimeStamp,
			ClientMsgID:     ev.ClientMsgID,
			EventID:         eventID,
			User:            ev.User,
			BotAuthorID:     ev.BotID,
			Text:            ev.Text,
			Files:           normalizeFiles(ev.Files),
		}

	case "message_changed":
		edited := ev.Message
		if edited == nil {
			return nil
		}
		return &models.Event{
			Kind:        models.EventEditMessage,
			ChannelID:   ev.Channel,
			Timestamp:   edited.TimeStamp,
			ClientMsgID: edited.ClientMsgID,
			EventID:     eventID,
			User:        edited.User,
			BotAuthorID: edited.BotID,
			Text:        edited.Text,
		}

	default:
		return nil
	}
}

func normalizeFiles(files []slackevents.File) []models.FileRef {
	if len(files) == 0 {
		return nil
	}

	refs := make([]models.FileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, models.FileRef{
			ID:          f.ID,
			Name:        f.Name,
			DownloadURL: f.URLPrivateDownload,
			Size:        f.Size,
		})
	}
	return refs
}
