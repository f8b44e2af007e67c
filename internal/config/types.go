package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Translator TranslatorConfig `json:"translator"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Storage    StorageConfig    `json:"storage"`
	Tenancy    TenancyConfig    `json:"tenancy"`
	Usage      UsageConfig      `json:"usage"`
	Chat       ChatConfig       `json:"chat"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec bounds outgoing messages per second (Telegram flood limits).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TranslatorConfig configures the Google Translate v2 backend.
type TranslatorConfig struct {
	APIKey string `json:"api_key"`
	// Endpoint overrides the API base URL (tests, proxies). Empty means the
	// public endpoint.
	Endpoint string `json:"endpoint,omitempty"`
	// Timeout is a Go duration string for a single translate call.
	Timeout string `json:"timeout,omitempty"`
	// LanguagesTTL is how long the supported-language set is cached.
	LanguagesTTL string `json:"languages_ttl,omitempty"`
}

// OpenAIConfig configures the conversational responder and the voice
// transcriber.
type OpenAIConfig struct {
	APIKey             string `json:"api_key"`
	Endpoint           string `json:"endpoint,omitempty"`
	CompletionModel    string `json:"completion_model,omitempty"`    // default: gpt-3.5-turbo
	TranscriptionModel string `json:"transcription_model,omitempty"` // default: whisper-1
	// SystemPrompt seeds the responder persona. Empty disables the persona
	// message entirely.
	SystemPrompt string `json:"system_prompt,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

// StorageConfig controls the persistence layer backing the member directory,
// the message log and the tenancy counter.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-process store (tests, throwaway runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TenancyConfig bounds how many chats the bot will serve.
type TenancyConfig struct {
	// MaxChats is the admission cap. 0 refuses every new chat.
	MaxChats int `json:"max_chats"`
}

// UsageConfig controls the per-chat daily message counter.
type UsageConfig struct {
	// ResetInterval is a Go duration string; default "24h".
	ResetInterval string `json:"reset_interval,omitempty"`
}

// ChatConfig holds user-facing chat behavior knobs.
type ChatConfig struct {
	// DefaultLanguage is seeded as a member's preference when they join and
	// greet handling runs. Empty means no preference until /setlang.
	DefaultLanguage string `json:"default_language,omitempty"`
}
