package transport

import "context"

type UpdateKind string

const (
	UpdateMessage      UpdateKind = "message"
	UpdateVoice        UpdateKind = "voice"
	UpdateMemberJoined UpdateKind = "member_joined"
	UpdateMemberLeft   UpdateKind = "member_left"
	UpdateBotAdded     UpdateKind = "bot_added"
	UpdateBotRemoved   UpdateKind = "bot_removed"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberChange
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromFullName string
	Text         string
	IsGroup      bool

	// VoiceFileID is set for voice updates; fetch the payload via DownloadFile.
	VoiceFileID string
}

// MemberChange describes a membership event: a user joining or leaving a
// chat, or the bot itself being added to / removed from a chat.
type MemberChange struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	Username  string
	FullName  string
}

type SendOptions struct {
	// ReplyTo threads the outgoing message as a reply (0 = no threading).
	ReplyTo        int
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendText delivers text to a chat and returns the platform message id.
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (int, error)

	// DownloadFile fetches a platform file payload (voice notes).
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// LeaveChat makes the bot leave a chat (used when admission is refused).
	LeaveChat(ctx context.Context, chatID int64) error

	// Username returns the bot's own username (without "@").
	Username() string
}
