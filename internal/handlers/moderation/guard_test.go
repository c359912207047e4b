package handlers

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/policy/permissions"
)

type moderatorStub struct {
	events []moderation.AttachmentEvent
	result *moderation.Result
}

func (m *moderatorStub) HandleAttachment(_ context.Context, ev moderation.AttachmentEvent) *moderation.Result {
	m.events = append(m.events, ev)
	if m.result != nil {
		return m.result
	}
	return &moderation.Result{Stage: moderation.StageDone}
}

type platformStub struct{}

func (platformStub) GetMemberRole(context.Context, int64, int64) (permissions.Role, error) {
	return permissions.RoleMember, nil
}
func (platformStub) DeleteMessage(context.Context, int64, int) error { return nil }
func (platformStub) RestrictUser(context.Context, int64, int64, time.Time) error {
	return nil
}
func (platformStub) BanUser(context.Context, int64, int64) error { return nil }
func (platformStub) SendMessage(context.Context, moderation.OutgoingMessage) error { return nil }
func (platformStub) GetMember(context.Context, int64, int64) (*api.ChatMember, error) {
	return &api.ChatMember{Status: "member"}, nil
}
func (platformStub) BotID() int64 { return 1 }

func documentUpdate(chatType, fileName string) (*api.Update, *api.Chat, *api.User) {
	chat := api.Chat{ID: -100, Type: chatType}
	user := &api.User{ID: 7, UserName: "eve", FirstName: "Eve"}
	u := &api.Update{Message: &api.Message{
		MessageID:       11,
		MessageThreadID: 4,
		Chat:            chat,
		From:            user,
		Document:        &api.Document{FileName: fileName},
	}}
	return u, &chat, user
}

func TestGuardForwardsGroupDocuments(t *testing.T) {
	t.Parallel()

	mod := &moderatorStub{}
	g := NewGuard(platformStub{}, mod, "en")
	u, chat, user := documentUpdate("supergroup", "game.apk")

	proceed, err := g.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proceed {
		t.Fatal("enforced attachment must stop the chain")
	}
	if len(mod.events) != 1 {
		t.Fatalf("expected one event, got %d", len(mod.events))
	}
	ev := mod.events[0]
	if ev.ChatID != -100 || ev.MessageID != 11 || ev.ThreadID != 4 || ev.FileName != "game.apk" {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if ev.Sender.ID != 7 || ev.Sender.Username != "eve" || ev.Sender.FirstName != "Eve" {
		t.Fatalf("unexpected sender: %#v", ev.Sender)
	}
}

func TestGuardProceedsOnSkippedAttachment(t *testing.T) {
	t.Parallel()

	mod := &moderatorStub{result: &moderation.Result{Stage: moderation.StageDetect, Skipped: true}}
	g := NewGuard(platformStub{}, mod, "en")
	u, chat, user := documentUpdate("group", "notes.txt")

	proceed, err := g.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("proceed=%v err=%v", proceed, err)
	}
}

func TestGuardIgnoresNonGroupAndTextMessages(t *testing.T) {
	t.Parallel()

	mod := &moderatorStub{}
	g := NewGuard(platformStub{}, mod, "en")

	u, chat, user := documentUpdate("private", "game.apk")
	if proceed, _ := g.Handle(context.Background(), u, chat, user); !proceed {
		t.Fatal("private documents belong to other handlers")
	}

	u, chat, user = documentUpdate("group", "")
	u.Message.Document = nil
	u.Message.Text = "hello"
	if proceed, _ := g.Handle(context.Background(), u, chat, user); !proceed {
		t.Fatal("text messages must pass through")
	}

	if proceed, _ := g.Handle(context.Background(), nil, nil, nil); !proceed {
		t.Fatal("nil update must pass through")
	}
	if len(mod.events) != 0 {
		t.Fatalf("moderator must not be called, got %d events", len(mod.events))
	}
}
