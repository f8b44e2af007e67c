package storage

import (
	"context"
	"errors"
	"time"

	"babelbot/internal/fanout"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-process store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// MessageEntry is one logged chat message. Role follows the completion-API
// convention ("user" or "assistant") so history can be replayed to the
// responder as-is.
type MessageEntry struct {
	ChatID int64
	UserID int64
	Role   string
	Text   string
	Lang   string // detected source language, "" when unknown
	At     time.Time
}

// Store is the persistence API behind the member directory, the message log
// and the tenancy counter.
type Store interface {
	// ---- member directory ----

	ListMembers(ctx context.Context, chatID int64) ([]fanout.Member, error)
	GetPreference(ctx context.Context, chatID, userID int64) (lang string, ok bool, err error)
	SetPreference(ctx context.Context, chatID, userID int64, lang string) error
	RemoveMember(ctx context.Context, chatID, userID int64) error

	AddChat(ctx context.Context, chatID int64, title string) error
	RemoveChat(ctx context.Context, chatID int64) error
	ListActiveChatIDs(ctx context.Context) ([]int64, error)

	// ---- message log ----

	AppendMessage(ctx context.Context, e MessageEntry) error
	// History returns a user's messages in a chat, oldest first, capped at
	// limit (0 = no cap).
	History(ctx context.Context, chatID, userID int64, limit int) ([]MessageEntry, error)

	// ---- tenancy counter ----

	// IncrementBelow atomically increments the global admitted-chat counter
	// iff it is below max, creating it at 1 on first use (iff max >= 1).
	IncrementBelow(ctx context.Context, max int) (bool, error)

	Close() error
}
