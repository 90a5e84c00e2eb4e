package forwarder

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("message forwarding is already running")
	ErrEmptyChat      = errors.New("chat has no messages")
	ErrLoginRequired  = errors.New("session is not authorized, run `tgrelay login` first")
)

type Chat struct {
	Id    int64  `json:"id"`
	Title string `json:"title"`
}

// Message is the part of a chat message the forwarder cares about. Text is
// empty for content without text or caption.
type Message struct {
	Id     int64
	ChatId int64
	Text   string
}

type Request struct {
	SourceChatId      int64    `json:"source_chat_id"`
	DestinationChatId int64    `json:"destination_channel_id"`
	Keywords          []string `json:"keywords"`
}

// Client is a session to the messaging platform.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	GetChats(ctx context.Context, limit int) ([]Chat, error)
	// GetLastMessage returns ErrEmptyChat when the chat has no messages.
	GetLastMessage(ctx context.Context, chatId int64) (*Message, error)
	// GetMessagesAfter returns every message with an id above minId, newest first.
	GetMessagesAfter(ctx context.Context, chatId, minId int64) ([]*Message, error)
	SendText(ctx context.Context, chatId int64, text string) (int64, error)
}

// Recorder keeps forwarding statistics.
type Recorder interface {
	Viewed(dstChatId int64)
	Forwarded(srcChatId, srcId, dstChatId, dstId int64)
}

type Settings struct {
	PollInterval     time.Duration
	Backoff          bool
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	AbortOnSendError bool
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:   5 * time.Second,
		Backoff:        true,
		BackoffInitial: 5 * time.Second,
		BackoffMax:     5 * time.Minute,
	}
}

type Status struct {
	Forwarding        bool       `json:"forwarding"`
	SourceChatId      int64      `json:"source_chat_id,omitempty"`
	DestinationChatId int64      `json:"destination_channel_id,omitempty"`
	Keywords          []string   `json:"keywords,omitempty"`
	Cursor            int64      `json:"cursor"`
	Forwarded         int64      `json:"forwarded"`
	Skipped           int64      `json:"skipped"`
	Failed            int64      `json:"failed"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}
