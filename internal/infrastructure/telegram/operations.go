package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "github.com/Bilolbee/apkban/internal/errors"
	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
)

// rightsMarkers are Bot API descriptions that mean the bot lacks a right, not that the call flaked.
var rightsMarkers = []string{
	"not enough rights",
	"chat_admin_required",
	"need administrator rights",
	"message can't be deleted",
	"can't remove chat owner",
	"user is an administrator of the chat",
	"have no rights",
}

// Operations talks to the Bot API on behalf of the moderation pipeline.
type Operations struct {
	bot     *api.BotAPI
	limiter *rate.Limiter
	logger  *log.Entry
}

var _ moderation.Platform = (*Operations)(nil)

func NewOperations(bot *api.BotAPI, limiter *rate.Limiter) *Operations {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Operations{
		bot:     bot,
		limiter: limiter,
		logger:  log.WithField("component", "telegram"),
	}
}

func (o *Operations) BotID() int64 {
	return o.bot.Self.ID
}

func (o *Operations) request(ctx context.Context, c api.Chattable) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
	}
	_, err := o.bot.Request(c)
	return Classify(err)
}

// GetMember returns the raw membership record.
func (o *Operations) GetMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			UserID: userID,
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get chat member: %w", Classify(err))
	}
	return &member, nil
}

func (o *Operations) GetMemberRole(ctx context.Context, chatID, userID int64) (permissions.Role, error) {
	member, err := o.GetMember(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	return permissions.RoleOf(member), nil
}

// DeleteMessage deletes a message from a chat
func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := o.request(ctx, api.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// BanUser bans a user from a chat for good, keeping their earlier messages.
func (o *Operations) BanUser(ctx context.Context, chatID, userID int64) error {
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate:      0,
		RevokeMessages: false,
	}
	if err := o.request(ctx, config); err != nil {
		return fmt.Errorf("failed to ban user: %w", err)
	}
	return nil
}

// RestrictUser takes away every sending right until the given time.
func (o *Operations) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate: until.Unix(),
		Permissions: &api.ChatPermissions{
			CanSendMessages:       false,
			CanSendAudios:         false,
			CanSendDocuments:      false,
			CanSendPhotos:         false,
			CanSendVideos:         false,
			CanSendVideoNotes:     false,
			CanSendVoiceNotes:     false,
			CanSendPolls:          false,
			CanSendOtherMessages:  false,
			CanAddWebPagePreviews: false,
		},
	}
	if err := o.request(ctx, config); err != nil {
		return fmt.Errorf("failed to restrict user: %w", err)
	}
	return nil
}

func (o *Operations) SendMessage(ctx context.Context, msg moderation.OutgoingMessage) error {
	out := api.NewMessage(msg.ChatID, msg.Text)
	out.ParseMode = api.ModeHTML
	out.MessageThreadID = msg.ThreadID
	out.LinkPreviewOptions.IsDisabled = true
	if msg.ReplyToMessageID != 0 {
		out.ReplyParameters = api.ReplyParameters{
			ChatID:                   msg.ChatID,
			MessageID:                msg.ReplyToMessageID,
			AllowSendingWithoutReply: true,
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
	}
	if _, err := o.bot.Send(out); err != nil {
		return fmt.Errorf("failed to send message: %w", Classify(err))
	}
	return nil
}

// Classify tags a Bot API failure with ErrPermission or ErrTransientPlatform.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.Class(err) != nil {
		return err
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 403 || (apiErr.Code == 400 && withPrivilegeError(apiErr.Message)) {
			return fmt.Errorf("%w: %w", apperrors.ErrPermission, err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
	}
	if withPrivilegeError(err.Error()) {
		return fmt.Errorf("%w: %w", apperrors.ErrPermission, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrTransientPlatform, err)
}

func withPrivilegeError(description string) bool {
	description = strings.ToLower(description)
	for _, marker := range rightsMarkers {
		if strings.Contains(description, marker) {
			return true
		}
	}
	return false
}
