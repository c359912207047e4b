package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/Bilolbee/apkban/internal/handlers/base"
	"github.com/Bilolbee/apkban/internal/i18n"
)

// Greeter answers private non-command messages with the introduction.
type Greeter struct {
	*base.BaseHandler
}

func NewGreeter(platform base.Platform, defaultLanguage string) *Greeter {
	return &Greeter{BaseHandler: base.NewBaseHandler(platform, "greeter", defaultLanguage)}
}

func (g *Greeter) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := g.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	if u.Message == nil || chat.Type != "private" {
		return true, nil
	}
	if u.Message.IsCommand() {
		return true, nil
	}
	if err := g.Reply(ctx, u.Message, Greeting(g.UserLanguage(user))); err != nil {
		return false, err
	}
	return false, nil
}

func Greeting(lang string) string {
	return i18n.Get("👋 Hello!\n\n🤖 I am the <b>Anti-APK Security Bot</b>.\n\n🔒 I protect groups from dangerous APK files.\n\n📌 <b>How does it work?</b>\n• Add me to a group\n• Give me admin rights (delete messages, ban users)\n• APK files get removed automatically\n\n⚠️ <i>I only work in groups and supergroups.</i>", lang)
}
