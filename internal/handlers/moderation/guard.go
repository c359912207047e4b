package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/Bilolbee/apkban/internal/bot"
	"github.com/Bilolbee/apkban/internal/handlers/base"
	"github.com/Bilolbee/apkban/internal/moderation"
)

type attachmentModerator interface {
	HandleAttachment(ctx context.Context, ev moderation.AttachmentEvent) *moderation.Result
}

// Guard feeds every document posted into a group through the moderation pipeline.
type Guard struct {
	*base.BaseHandler
	moderator attachmentModerator
}

func NewGuard(platform base.Platform, moderator attachmentModerator, defaultLanguage string) *Guard {
	return &Guard{
		BaseHandler: base.NewBaseHandler(platform, "guard", defaultLanguage),
		moderator:   moderator,
	}
}

func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := g.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || msg.Document == nil || !base.IsGroup(chat) {
		return true, nil
	}

	res := g.moderator.HandleAttachment(ctx, moderation.AttachmentEvent{
		ChatID:    chat.ID,
		ChatType:  chat.Type,
		ThreadID:  msg.MessageThreadID,
		MessageID: msg.MessageID,
		FileName:  bot.AttachedFileName(msg),
		Sender: moderation.Sender{
			ID:        user.ID,
			Username:  user.UserName,
			FirstName: user.FirstName,
		},
	})

	entry := g.GetLogger().WithFields(log.Fields{
		"event_id": res.EventID,
		"chat_id":  chat.ID,
		"user":     bot.GetUN(user),
		"stage":    res.Stage,
	})
	switch {
	case res.Err != nil:
		entry.WithError(res.Err).Warn("attachment pipeline stopped")
	case res.Skipped:
		entry.WithField("reason", res.SkipReason).Trace("attachment skipped")
		return true, nil
	default:
		entry.WithFields(log.Fields{"strikes": res.Strikes, "action": res.Action.Kind.String()}).Debug("attachment enforced")
	}
	// the message is gone or being handled; nothing else should react to it
	return false, nil
}
