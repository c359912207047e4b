package moderation

import (
	"context"
	"time"

	"github.com/Bilolbee/apkban/internal/policy/permissions"
)

// Platform is the narrow set of chat operations the pipeline needs.
type Platform interface {
	GetMemberRole(ctx context.Context, chatID, userID int64) (permissions.Role, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error
	BanUser(ctx context.Context, chatID, userID int64) error
	SendMessage(ctx context.Context, msg OutgoingMessage) error
}

// OutgoingMessage is always sent as HTML.
type OutgoingMessage struct {
	ChatID           int64
	ThreadID         int
	ReplyToMessageID int
	Text             string
}

type Sender struct {
	ID        int64
	Username  string
	FirstName string
}

// AttachmentEvent is one inbound message carrying a file.
type AttachmentEvent struct {
	ChatID    int64
	ChatType  string
	ThreadID  int
	MessageID int
	FileName  string
	Sender    Sender
}
