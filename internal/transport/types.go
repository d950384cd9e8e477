package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// MemberStatus is the platform's classification of a user's relationship
// to a channel.
type MemberStatus string

const (
	StatusMember        MemberStatus = "member"
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
	StatusRestricted    MemberStatus = "restricted"
	StatusUnknown       MemberStatus = "unknown"
)

// Granting reports whether the status counts as "joined" for gating purposes.
func (s MemberStatus) Granting() bool {
	switch s {
	case StatusMember, StatusCreator, StatusAdministrator:
		return true
	}
	return false
}

// Adapter is the platform boundary the core talks through.
//
// SendText failures are undifferentiated: blocked-by-user, deactivated
// account, and network errors all come back as a plain error. MemberOf
// errors mean the query itself failed (bot lacks permission, channel
// unreachable) and are distinct from a non-granting status.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	MemberOf(ctx context.Context, channel string, user int64) (MemberStatus, error)
}
