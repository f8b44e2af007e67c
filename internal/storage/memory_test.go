package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"babelbot/internal/fanout"
	"babelbot/internal/storage"
)

func TestMemoryDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storage.OpenMemory()

	require.NoError(t, st.SetPreference(ctx, 10, 1, "en"))
	require.NoError(t, st.SetPreference(ctx, 10, 2, "fr"))
	require.NoError(t, st.SetPreference(ctx, 11, 3, "de"))

	members, err := st.ListMembers(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []fanout.Member{{UserID: 1, Language: "en"}, {UserID: 2, Language: "fr"}}, members)

	lang, ok, err := st.GetPreference(ctx, 10, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fr", lang)

	_, ok, err = st.GetPreference(ctx, 10, 99)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.RemoveMember(ctx, 10, 2))
	members, err = st.ListMembers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestMemoryEmptyPreferenceIsNotSet(t *testing.T) {
	ctx := context.Background()
	st := storage.OpenMemory()

	require.NoError(t, st.SetPreference(ctx, 10, 1, ""))
	_, ok, err := st.GetPreference(ctx, 10, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryChatLifecycle(t *testing.T) {
	ctx := context.Background()
	st := storage.OpenMemory()

	require.NoError(t, st.AddChat(ctx, 10, "alpha"))
	require.NoError(t, st.AddChat(ctx, 20, "beta"))
	require.NoError(t, st.SetPreference(ctx, 10, 1, "en"))

	ids, err := st.ListActiveChatIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, ids)

	// Removing a chat removes its members too.
	require.NoError(t, st.RemoveChat(ctx, 10))
	ids, err = st.ListActiveChatIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{20}, ids)

	members, err := st.ListMembers(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestMemoryHistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	st := storage.OpenMemory()

	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, st.AppendMessage(ctx, storage.MessageEntry{
			ChatID: 10, UserID: 1, Role: "user", Text: text,
		}))
	}
	require.NoError(t, st.AppendMessage(ctx, storage.MessageEntry{
		ChatID: 10, UserID: 2, Role: "user", Text: "other user",
	}))

	all, err := st.History(ctx, 10, 1, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "one", all[0].Text)
	require.Equal(t, "four", all[3].Text)

	last, err := st.History(ctx, 10, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "four"}, []string{last[0].Text, last[1].Text})
}

func TestMemoryIncrementBelow(t *testing.T) {
	ctx := context.Background()
	st := storage.OpenMemory()

	ok, err := st.IncrementBelow(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.IncrementBelow(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.IncrementBelow(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	// Zero capacity refuses even the very first admission.
	fresh := storage.OpenMemory()
	ok, err = fresh.IncrementBelow(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)
}
