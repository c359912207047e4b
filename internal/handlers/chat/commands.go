package handlers

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"unicode"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Bilolbee/apkban/internal/bot"
	apperrors "github.com/Bilolbee/apkban/internal/errors"
	"github.com/Bilolbee/apkban/internal/handlers/base"
	"github.com/Bilolbee/apkban/internal/i18n"
	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/policy/escalation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
	"github.com/Bilolbee/apkban/internal/strikes"
)

type ledger interface {
	ListForGroup(groupID int64) map[int64]int
	Lookup(key strikes.Key) (strikes.Record, bool)
	Reset(ctx context.Context, key strikes.Key) (bool, error)
}

// Commands serves /start, /help, /stats and /resetstrike.
type Commands struct {
	*base.BaseHandler
	store  ledger
	policy escalation.Policy
}

func NewCommands(platform base.Platform, store ledger, policy escalation.Policy, defaultLanguage string) *Commands {
	return &Commands{
		BaseHandler: base.NewBaseHandler(platform, "commands", defaultLanguage),
		store:       store,
		policy:      policy,
	}
}

func (c *Commands) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := c.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || !msg.IsCommand() {
		return true, nil
	}

	var err error
	switch strings.ToLower(msg.Command()) {
	case "start":
		err = c.start(ctx, msg, chat, user)
	case "help":
		err = c.help(ctx, msg, chat, user)
	case "stats":
		err = c.stats(ctx, msg, chat, user)
	case "resetstrike":
		err = c.resetStrike(ctx, msg, chat, user)
	default:
		return true, nil
	}
	if err != nil {
		return false, errors.WithMessagef(err, "command /%s", msg.Command())
	}
	return false, nil
}

func (c *Commands) language(chat *api.Chat, user *api.User) string {
	if base.IsGroup(chat) {
		return c.GroupLanguage()
	}
	return c.UserLanguage(user)
}

func (c *Commands) start(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	if !base.IsGroup(chat) {
		return c.Reply(ctx, msg, Greeting(c.UserLanguage(user)))
	}

	lang := c.GroupLanguage()
	member, err := c.GetPlatform().GetMember(ctx, chat.ID, c.GetPlatform().BotID())
	if err != nil {
		c.GetLogger().WithError(err).WithField("chat_id", chat.ID).Warn("cant check own membership")
	}
	if err == nil && permissions.IsElevated(permissions.RoleOf(member)) {
		return c.Reply(ctx, msg, i18n.Get("✅ <b>Bot is active!</b>\n\n🛡️ This group is protected from APK files.", lang))
	}
	return c.Reply(ctx, msg, i18n.Get("⚠️ <b>Please make me an admin!</b>\n\nRequired rights:\n• Delete messages\n• Restrict members\n• Ban members", lang))
}

func (c *Commands) help(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	return c.Reply(ctx, msg, HelpText(c.policy, c.language(chat, user)))
}

// HelpText renders the strike ladder for the configured policy.
func HelpText(policy escalation.Policy, lang string) string {
	var sb strings.Builder
	sb.WriteString(i18n.Get("🛡️ <b>Anti-APK Security Bot</b>\n━━━━━━━━━━━━━━━━━━━━\n\n📌 <b>Main features:</b>\n• Removes APK files automatically\n• Punishes with a strike system\n• Exempts admins\n\n⚡ <b>Strike system:</b>\n", lang))
	for count := 1; count <= policy.MaxStrikes; count++ {
		action := policy.Decide(count)
		switch action.Kind {
		case escalation.Warn:
			sb.WriteString(fmt.Sprintf(i18n.Get("%d → Warning\n", lang), count))
		case escalation.Mute:
			sb.WriteString(fmt.Sprintf(i18n.Get("%d → %s mute\n", lang), count, moderation.HumanDuration(action.Duration, lang)))
		case escalation.Ban:
			sb.WriteString(fmt.Sprintf(i18n.Get("%d → Ban\n", lang), count))
		}
	}
	sb.WriteString(i18n.Get("\n🔧 <b>Admin commands:</b>\n/stats - Strike statistics\n/resetstrike - Clear strikes\n/help - Help\n\n━━━━━━━━━━━━━━━━━━━━\n🔒 <i>Your group is safe!</i>", lang))
	return sb.String()
}

func (c *Commands) stats(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	if !base.IsGroup(chat) {
		return nil
	}
	lang := c.GroupLanguage()
	if !c.IsAdmin(ctx, chat.ID, user.ID) {
		return c.Reply(ctx, msg, i18n.Get("⚠️ This command is for admins only!", lang))
	}
	return c.Reply(ctx, msg, c.StatsText(chat.ID, lang))
}

// StatsText lists the group's offenders, most strikes first, ties by user id.
func (c *Commands) StatsText(chatID int64, lang string) string {
	counts := c.store.ListForGroup(chatID)
	if len(counts) == 0 {
		return i18n.Get("📊 <b>Statistics</b>\n\n✅ No violations!", lang)
	}

	userIDs := make([]int64, 0, len(counts))
	for userID := range counts {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool {
		a, b := userIDs[i], userIDs[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return a < b
	})

	var sb strings.Builder
	sb.WriteString(i18n.Get("📊 <b>Strike statistics</b>\n\n", lang))
	for _, userID := range userIDs {
		name := strconv.FormatInt(userID, 10)
		if rec, ok := c.store.Lookup(strikes.Key{GroupID: chatID, UserID: userID}); ok {
			name = rec.DisplayName()
		}
		sb.WriteString(fmt.Sprintf(i18n.Get("• %s: %d strike\n", lang), html.EscapeString(name), counts[userID]))
	}
	return sb.String()
}

func (c *Commands) resetStrike(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	if !base.IsGroup(chat) {
		return nil
	}
	lang := c.GroupLanguage()
	if !c.IsAdmin(ctx, chat.ID, user.ID) {
		return c.Reply(ctx, msg, i18n.Get("⚠️ This command is for admins only!", lang))
	}

	targetID, err := resetTarget(msg)
	if err != nil {
		c.GetLogger().WithError(err).WithField("args", msg.CommandArguments()).Debug("bad /resetstrike input")
		return c.Reply(ctx, msg, i18n.Get("❓ <b>Usage:</b>\n• Reply to a message with /resetstrike\n• /resetstrike 123456789", lang))
	}

	entry := c.GetLogger().WithFields(log.Fields{
		"chat_id":   chat.ID,
		"target_id": targetID,
		"admin":     bot.GetUN(user),
	})
	removed, err := c.store.Reset(ctx, strikes.Key{GroupID: chat.ID, UserID: targetID})
	if err != nil {
		entry.WithError(err).Warn("strikes reset in memory only")
	}
	if !removed {
		return c.Reply(ctx, msg, i18n.Get("ℹ️ This user has no strikes.", lang))
	}
	entry.Info("strikes reset by admin")
	return c.Reply(ctx, msg, fmt.Sprintf(i18n.Get("✅ Strikes cleared: %d", lang), targetID))
}

// resetTarget takes the replied-to author first, then a positive decimal id argument.
func resetTarget(msg *api.Message) (int64, error) {
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil && !isTopicRoot(msg) {
		return reply.From.ID, nil
	}

	args := bot.CommandArgs(msg)
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: no target", apperrors.ErrUserInput)
	}
	arg := args[0]
	if strings.IndexFunc(arg, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return 0, fmt.Errorf("%w: %q is not a user id", apperrors.ErrUserInput, arg)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a user id", apperrors.ErrUserInput, arg)
	}
	return id, nil
}

// In forum topics every message replies to the topic's first message.
func isTopicRoot(msg *api.Message) bool {
	return msg.IsTopicMessage && msg.ReplyToMessage != nil && msg.ReplyToMessage.MessageID == msg.MessageThreadID
}
