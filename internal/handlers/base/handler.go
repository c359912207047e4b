package base

import (
	"context"
	"errors"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/Bilolbee/apkban/internal/i18n"
	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
)

// Platform is what handlers need on top of the moderation operations.
type Platform interface {
	moderation.Platform
	GetMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error)
	BotID() int64
}

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	platform        Platform
	defaultLanguage string
	logger          *log.Entry
}

func NewBaseHandler(platform Platform, handlerName, defaultLanguage string) *BaseHandler {
	return &BaseHandler{
		platform:        platform,
		defaultLanguage: defaultLanguage,
		logger:          log.WithFields(log.Fields{"component": "handlers", "handler": handlerName}),
	}
}

func (h *BaseHandler) GetPlatform() Platform {
	return h.platform
}

func (h *BaseHandler) GetLogger() *log.Entry {
	return h.logger
}

// ValidateUpdate performs common update validation
func (h *BaseHandler) ValidateUpdate(u *api.Update, chat *api.Chat, user *api.User) error {
	if u == nil {
		return ErrNilUpdate
	}
	if chat == nil || user == nil {
		return ErrNilChatOrUser
	}
	return nil
}

// GroupLanguage is used for anything posted into a group.
func (h *BaseHandler) GroupLanguage() string {
	return h.defaultLanguage
}

// UserLanguage follows the user's client language when a catalog exists for it.
func (h *BaseHandler) UserLanguage(user *api.User) string {
	if user != nil && tool.In(user.LanguageCode, i18n.GetLanguagesList()...) {
		return user.LanguageCode
	}
	return h.defaultLanguage
}

// IsAdmin treats a failed lookup as "not an admin".
func (h *BaseHandler) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	role, err := h.platform.GetMemberRole(ctx, chatID, userID)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"chat_id": chatID, "user_id": userID}).Warn("cant check member role")
		return false
	}
	return permissions.IsElevated(role)
}

// Reply answers msg in its chat and topic.
func (h *BaseHandler) Reply(ctx context.Context, msg *api.Message, text string) error {
	return h.platform.SendMessage(ctx, moderation.OutgoingMessage{
		ChatID:           msg.Chat.ID,
		ThreadID:         msg.MessageThreadID,
		ReplyToMessageID: msg.MessageID,
		Text:             text,
	})
}

func IsGroup(chat *api.Chat) bool {
	return chat != nil && tool.In(chat.Type, "group", "supergroup")
}

var (
	ErrNilUpdate     = errors.New("nil update")
	ErrNilChatOrUser = errors.New("nil chat or user")
)
