package transport

import (
	"context"
	"io"
)

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
	ChatTitle    string
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
	IsPrivate    bool

	// Mentions lists user mentions in Text, in order of appearance.
	Mentions []Mention
}

// Mention is a user reference found in a message.
//
// For "@name" mentions only Username is set; the platform does not say who
// it is. Text mentions (users without a public username) carry UserID.
type Mention struct {
	Text     string // exact substring of Message.Text
	UserID   int64
	Username string
	Name     string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Audio is an audio attachment. Data is read once while sending.
type Audio struct {
	Data     io.Reader
	FileName string
	Caption  string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Messenger is the part of the platform used to reach individual users.
type Messenger interface {
	// OpenPrivate returns the one-to-one chat with userID. Errors matching
	// ErrUnreachable mean the user cannot be messaged by the bot.
	OpenPrivate(ctx context.Context, userID int64) (ChatTarget, error)
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// AudioSender is implemented by adapters that can upload audio files.
type AudioSender interface {
	SendAudio(ctx context.Context, to ChatTarget, a Audio) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
