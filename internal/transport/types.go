package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User identifies the sender of an update.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// Mention renders an HTML mention link for log lines.
func (u User) Mention() string {
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = "user"
	}
	return `<a href="tg://user?id=` + itoa(u.ID) + `">` + escapeHTML(name) + `</a>`
}

// Media describes an attached file. Nil when the message has none.
type Media struct {
	Kind     MediaKind
	FileName string
	MIME     string
	Size     int64
	Duration int // seconds, as reported by the sender's client (0 if unknown)
}

type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

type Message struct {
	ID        int
	ChatID    int64
	ThreadID  int // telegram forum topic thread id (0 if none)
	From      User
	Text      string
	IsPrivate bool
	Media     *Media
	// ReplyTo is the message being replied to (one level deep, no Media).
	ReplyTo *Message
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
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

// Button is an inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // message id to reply to (0 = none)
	// Keyboard is attached to the message. On edit, a nil Keyboard removes existing buttons.
	Keyboard Keyboard
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendText returns *RateLimitError when throttled and ErrRecipientUnavailable when the
	// recipient can never be reached (blocked the bot, deactivated, chat gone).
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
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
