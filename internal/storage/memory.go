package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"babelbot/internal/fanout"
)

type memberKey struct{ chat, user int64 }

// memStore keeps everything in process memory. State is lost on restart, so
// it suits tests and throwaway runs only.
type memStore struct {
	mu       sync.Mutex
	chats    map[int64]string
	members  map[memberKey]string
	messages []MessageEntry
	admitted int
}

// OpenMemory returns a volatile in-process store.
func OpenMemory() Store {
	return &memStore{
		chats:   make(map[int64]string),
		members: make(map[memberKey]string),
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) ListMembers(_ context.Context, chatID int64) ([]fanout.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fanout.Member
	for k, lang := range m.members {
		if k.chat == chatID {
			out = append(out, fanout.Member{UserID: k.user, Language: lang})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) GetPreference(_ context.Context, chatID, userID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lang, ok := m.members[memberKey{chatID, userID}]
	return lang, ok && lang != "", nil
}

func (m *memStore) SetPreference(_ context.Context, chatID, userID int64, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey{chatID, userID}] = lang
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, chatID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberKey{chatID, userID})
	return nil
}

func (m *memStore) AddChat(_ context.Context, chatID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chatID] = title
	return nil
}

func (m *memStore) RemoveChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	for k := range m.members {
		if k.chat == chatID {
			delete(m.members, k)
		}
	}
	return nil
}

func (m *memStore) ListActiveChatIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.chats))
	for id := range m.chats {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) AppendMessage(_ context.Context, e MessageEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, e)
	return nil
}

func (m *memStore) History(_ context.Context, chatID, userID int64, limit int) ([]MessageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MessageEntry
	for _, e := range m.messages {
		if e.ChatID == chatID && e.UserID == userID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) IncrementBelow(_ context.Context, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.admitted >= max {
		return false, nil
	}
	m.admitted++
	return true, nil
}
