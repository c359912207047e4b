package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/policy/escalation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
	"github.com/Bilolbee/apkban/internal/strikes"
)

type chatPlatform struct {
	mu       sync.Mutex
	roles    map[int64]permissions.Role
	botAdmin bool
	sent     []moderation.OutgoingMessage
}

func (p *chatPlatform) GetMemberRole(_ context.Context, _ int64, userID int64) (permissions.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role, ok := p.roles[userID]; ok {
		return role, nil
	}
	return permissions.RoleMember, nil
}
func (p *chatPlatform) DeleteMessage(context.Context, int64, int) error { return nil }
func (p *chatPlatform) RestrictUser(context.Context, int64, int64, time.Time) error {
	return nil
}
func (p *chatPlatform) BanUser(context.Context, int64, int64) error { return nil }
func (p *chatPlatform) SendMessage(_ context.Context, msg moderation.OutgoingMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}
func (p *chatPlatform) GetMember(context.Context, int64, int64) (*api.ChatMember, error) {
	if p.botAdmin {
		return &api.ChatMember{Status: "administrator"}, nil
	}
	return &api.ChatMember{Status: "member"}, nil
}
func (p *chatPlatform) BotID() int64 { return 1 }

func (p *chatPlatform) lastText(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return p.sent[len(p.sent)-1].Text
}

var testPolicy = escalation.Policy{MaxStrikes: 3, MuteDuration: 10 * time.Minute}

func newCommands(t *testing.T, records ...strikes.Record) (*Commands, *chatPlatform, *strikes.Store) {
	t.Helper()
	store, err := strikes.Open(context.Background(), strikes.NewMemoryBackend(records...), strikes.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	platform := &chatPlatform{roles: map[int64]permissions.Role{42: permissions.RoleAdministrator}}
	return NewCommands(platform, store, testPolicy, "en"), platform, store
}

func commandUpdate(chatType, text string, from int64) (*api.Update, *api.Chat, *api.User) {
	chat := api.Chat{ID: -100, Type: chatType}
	user := &api.User{ID: from, FirstName: "Tester"}
	cmd := strings.Fields(text)[0]
	u := &api.Update{Message: &api.Message{
		MessageID: 5,
		Chat:      chat,
		From:      user,
		Text:      text,
		Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
	return u, &chat, user
}

func TestCommandsStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		chatType string
		botAdmin bool
		want     string
	}{
		{name: "private greeting", chatType: "private", want: "Anti-APK Security Bot"},
		{name: "group active", chatType: "supergroup", botAdmin: true, want: "Bot is active"},
		{name: "group needs rights", chatType: "group", want: "Please make me an admin"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, platform, _ := newCommands(t)
			platform.botAdmin = tt.botAdmin

			u, chat, user := commandUpdate(tt.chatType, "/start", 7)
			proceed, err := c.Handle(context.Background(), u, chat, user)
			if err != nil || proceed {
				t.Fatalf("proceed=%v err=%v", proceed, err)
			}
			if got := platform.lastText(t); !strings.Contains(got, tt.want) {
				t.Fatalf("reply %q does not contain %q", got, tt.want)
			}
		})
	}
}

func TestHelpTextFollowsPolicy(t *testing.T) {
	t.Parallel()

	text := HelpText(testPolicy, "en")
	for _, want := range []string{"1 → Warning", "2 → 10 min mute", "3 → Ban", "/resetstrike"} {
		if !strings.Contains(text, want) {
			t.Errorf("help text is missing %q", want)
		}
	}

	longer := HelpText(escalation.Policy{MaxStrikes: 5, MuteDuration: 90 * time.Second}, "en")
	for _, want := range []string{"3 → Warning", "4 → 90 sec mute", "5 → Ban"} {
		if !strings.Contains(longer, want) {
			t.Errorf("help text is missing %q", want)
		}
	}
}

func TestCommandsStatsRequiresAdmin(t *testing.T) {
	t.Parallel()

	c, platform, _ := newCommands(t)
	u, chat, user := commandUpdate("supergroup", "/stats", 7)
	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}
	if got := platform.lastText(t); !strings.Contains(got, "admins only") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestCommandsStatsOrdering(t *testing.T) {
	t.Parallel()

	c, platform, _ := newCommands(t,
		strikes.Record{Key: strikes.Key{GroupID: -100, UserID: 9}, Strikes: 1, FirstName: "Zed"},
		strikes.Record{Key: strikes.Key{GroupID: -100, UserID: 3}, Strikes: 2, Username: "<b>bob</b>"},
		strikes.Record{Key: strikes.Key{GroupID: -100, UserID: 8}, Strikes: 1},
		strikes.Record{Key: strikes.Key{GroupID: -200, UserID: 1}, Strikes: 2, Username: "other"},
	)
	u, chat, user := commandUpdate("supergroup", "/stats", 42)
	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}

	got := platform.lastText(t)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	want := []string{
		"• &lt;b&gt;bob&lt;/b&gt;: 2 strike",
		"• 8: 1 strike",
		"• Zed: 1 strike",
	}
	if len(lines) < len(want) {
		t.Fatalf("unexpected stats %q", got)
	}
	for i, line := range lines[len(lines)-len(want):] {
		if line != want[i] {
			t.Errorf("line %d: got %q, want %q", i, line, want[i])
		}
	}
	if strings.Contains(got, "other") {
		t.Fatal("stats leaked another group")
	}
}

func TestCommandsStatsEmpty(t *testing.T) {
	t.Parallel()

	c, _, _ := newCommands(t)
	if got := c.StatsText(-100, "en"); !strings.Contains(got, "No violations") {
		t.Fatalf("unexpected %q", got)
	}
}

func TestCommandsResetStrike(t *testing.T) {
	t.Parallel()

	key := strikes.Key{GroupID: -100, UserID: 77}
	c, platform, store := newCommands(t, strikes.Record{Key: key, Strikes: 2})

	u, chat, user := commandUpdate("supergroup", "/resetstrike 77", 42)
	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}
	if got := platform.lastText(t); got != "✅ Strikes cleared: 77" {
		t.Fatalf("unexpected reply %q", got)
	}
	if store.Get(key) != 0 {
		t.Fatal("strikes were not cleared")
	}

	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}
	if got := platform.lastText(t); !strings.Contains(got, "no strikes") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestCommandsResetStrikeByReply(t *testing.T) {
	t.Parallel()

	key := strikes.Key{GroupID: -100, UserID: 55}
	c, _, store := newCommands(t, strikes.Record{Key: key, Strikes: 1})

	u, chat, user := commandUpdate("supergroup", "/resetstrike", 42)
	u.Message.ReplyToMessage = &api.Message{MessageID: 2, From: &api.User{ID: 55}}
	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}
	if store.Get(key) != 0 {
		t.Fatal("replied-to user was not reset")
	}
}

func TestCommandsResetStrikeRejectsBadInput(t *testing.T) {
	t.Parallel()

	key := strikes.Key{GroupID: -100, UserID: 77}
	for _, text := range []string{"/resetstrike", "/resetstrike abc", "/resetstrike -77", "/resetstrike 0", "/resetstrike 7x"} {
		c, platform, store := newCommands(t, strikes.Record{Key: key, Strikes: 1})
		u, chat, user := commandUpdate("supergroup", text, 42)
		if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
			t.Fatalf("%s: %v", text, err)
		}
		if got := platform.lastText(t); !strings.Contains(got, "Usage") {
			t.Errorf("%s: unexpected reply %q", text, got)
		}
		if store.Get(key) != 1 {
			t.Errorf("%s: ledger changed", text)
		}
	}
}

func TestCommandsResetStrikeRequiresAdmin(t *testing.T) {
	t.Parallel()

	key := strikes.Key{GroupID: -100, UserID: 77}
	c, _, store := newCommands(t, strikes.Record{Key: key, Strikes: 1})
	u, chat, user := commandUpdate("supergroup", "/resetstrike 77", 7)
	if _, err := c.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatal(err)
	}
	if store.Get(key) != 1 {
		t.Fatal("non-admin cleared strikes")
	}
}

func TestCommandsPassThrough(t *testing.T) {
	t.Parallel()

	c, platform, _ := newCommands(t)
	u, chat, user := commandUpdate("supergroup", "/unknown", 7)
	proceed, err := c.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("proceed=%v err=%v", proceed, err)
	}

	u.Message.Entities = nil
	u.Message.Text = "plain text"
	if proceed, _ := c.Handle(context.Background(), u, chat, user); !proceed {
		t.Fatal("plain text must pass through")
	}
	if len(platform.sent) != 0 {
		t.Fatalf("unexpected replies: %v", platform.sent)
	}
}

func TestGreeterRepliesInPrivateOnly(t *testing.T) {
	t.Parallel()

	platform := &chatPlatform{}
	g := NewGreeter(platform, "en")

	u, chat, user := commandUpdate("private", "hi there", 7)
	u.Message.Entities = nil
	proceed, err := g.Handle(context.Background(), u, chat, user)
	if err != nil || proceed {
		t.Fatalf("proceed=%v err=%v", proceed, err)
	}
	if got := platform.lastText(t); got != Greeting("en") {
		t.Fatalf("unexpected greeting %q", got)
	}

	u, chat, user = commandUpdate("group", "hi there", 7)
	if proceed, _ := g.Handle(context.Background(), u, chat, user); !proceed {
		t.Fatal("group messages must pass through")
	}
}

func TestGreeterIgnoresUnknownPrivateCommands(t *testing.T) {
	t.Parallel()

	platform := &chatPlatform{}
	g := NewGreeter(platform, "en")

	u, chat, user := commandUpdate("private", "/foo", 7)
	proceed, err := g.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("proceed=%v err=%v", proceed, err)
	}
	if len(platform.sent) != 0 {
		t.Fatalf("unexpected replies: %v", platform.sent)
	}
}
