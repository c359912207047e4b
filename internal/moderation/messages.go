package moderation

import (
	"fmt"
	"html"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/Bilolbee/apkban/internal/i18n"
)

// Mention renders an HTML link to the user. The name is escaped.
func Mention(userID int64, name, lang string) string {
	if name == "" {
		name = i18n.Get("User", lang)
	}
	return tool.ExecTemplate(`<a href="tg://user?id={{ .user_id }}">{{ .name }}</a>`, map[string]any{
		"user_id": userID,
		"name":    html.EscapeString(name),
	})
}

// HumanDuration prints whole minutes when possible, seconds otherwise.
func HumanDuration(d time.Duration, lang string) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf(i18n.Get("%d min", lang), int(d/time.Minute))
	}
	return fmt.Sprintf(i18n.Get("%d sec", lang), int(d/time.Second))
}

func warnText(mention string, count, maxStrikes int, lang string) string {
	return fmt.Sprintf(
		i18n.Get("⚠️ <b>Security warning!</b>\n\n👤 %s\n📛 APK files are <b>forbidden</b> in this group.\n🔒 The file was removed for safety.\n\n📊 <b>Strike:</b> %d/%d\n\n⚡ <i>The next violation will be punished!</i>", lang),
		mention, count, maxStrikes,
	)
}

func muteText(mention string, d time.Duration, count, maxStrikes int, lang string) string {
	return fmt.Sprintf(
		i18n.Get("🔇 <b>%s is muted for %s!</b>\n\n📛 Reason: sending an APK file again\n📊 <b>Strike:</b> %d/%d\n\n⚠️ <i>The next violation means a ban!</i>", lang),
		mention, HumanDuration(d, lang), count, maxStrikes,
	)
}

func banText(mention string, count int, lang string) string {
	return fmt.Sprintf(
		i18n.Get("🚫 <b>User removed from the group!</b>\n\n👤 User: %s\n📛 Reason: sending APK files (%d strikes)\n\n🔒 <i>Group safety restored.</i>", lang),
		mention, count,
	)
}
