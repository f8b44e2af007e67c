package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"babelbot/internal/storage"
	logx "babelbot/pkg/logx"
)

func openTestSQLite(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLitePreferenceUpsert(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t)

	require.NoError(t, st.SetPreference(ctx, 10, 1, "en"))
	require.NoError(t, st.SetPreference(ctx, 10, 1, "fr"))

	lang, ok, err := st.GetPreference(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fr", lang)

	members, err := st.ListMembers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestSQLiteChatAndMessageLog(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t)

	require.NoError(t, st.AddChat(ctx, 10, "alpha"))
	require.NoError(t, st.AppendMessage(ctx, storage.MessageEntry{
		ChatID: 10, UserID: 1, Role: "user", Text: "bonjour", Lang: "fr",
	}))
	require.NoError(t, st.AppendMessage(ctx, storage.MessageEntry{
		ChatID: 10, UserID: 1, Role: "assistant", Text: "hello",
	}))

	hist, err := st.History(ctx, 10, 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "user", hist[0].Role)
	require.Equal(t, "fr", hist[0].Lang)
	require.Equal(t, "assistant", hist[1].Role)

	hist, err = st.History(ctx, 10, 1, 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "hello", hist[0].Text)

	ids, err := st.ListActiveChatIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{10}, ids)

	require.NoError(t, st.RemoveChat(ctx, 10))
	ids, err = st.ListActiveChatIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestSQLiteIncrementBelowCreatesCounterLazily(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t)

	// No counter row yet and zero capacity: refuse without creating one.
	ok, err := st.IncrementBelow(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.IncrementBelow(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.IncrementBelow(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)

	// Raising the cap later admits again; the count carries over.
	ok, err = st.IncrementBelow(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
}
