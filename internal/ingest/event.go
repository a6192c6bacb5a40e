package ingest

import (
	"time"

	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/telegram"
)

// EventFromMessage captures the parts of a group or channel message the
// pipeline needs. Channel posts without a user sender are attributed to the
// posting chat.
func EventFromMessage(m *telegram.Message) storage.Event {
	ev := storage.Event{
		ID:           m.MessageID,
		ChatID:       m.Chat.ID,
		IsGroup:      m.Chat.IsGroup(),
		IsChannel:    m.Chat.IsChannel(),
		ChatTitle:    m.Chat.Title,
		ChatUsername: m.Chat.Username,
		Text:         m.Body(),
		Date:         time.Unix(m.Date, 0).UTC(),
		IsForwarded:  m.IsForwarded(),
	}

	switch {
	case m.From != nil:
		ev.SenderID = m.From.ID
		ev.SenderName = m.From.DisplayName()
		ev.SenderUsername = m.From.Username
		ev.SenderIsBot = m.From.IsBot
	case m.SenderChat != nil:
		ev.SenderID = m.SenderChat.ID
		ev.SenderName = m.SenderChat.Title
		ev.SenderUsername = m.SenderChat.Username
	default:
		ev.SenderID = m.Chat.ID
		ev.SenderName = m.Chat.Title
	}

	switch {
	case m.ForwardFrom != nil:
		ev.FwdFromID = m.ForwardFrom.ID
		ev.FwdFromName = m.ForwardFrom.Username
		if ev.FwdFromName == "" {
			ev.FwdFromName = m.ForwardFrom.DisplayName()
		}
	case m.ForwardFromChat != nil:
		ev.FwdFromID = m.ForwardFromChat.ID
		ev.FwdFromName = m.ForwardFromChat.Title
	default:
		ev.FwdFromName = m.ForwardSenderName
	}
	return ev
}
