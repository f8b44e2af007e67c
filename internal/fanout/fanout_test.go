package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"babelbot/internal/fanout"
	logx "babelbot/pkg/logx"
)

type fakeDirectory struct {
	members []fanout.Member
	err     error
}

func (d *fakeDirectory) ListMembers(context.Context, int64) ([]fanout.Member, error) {
	return d.members, d.err
}

// fakeTranslator renders "[lang] text" so deliveries are attributable to a
// language. Languages in identity render the source unchanged; languages in
// fail error out.
type fakeTranslator struct {
	mu       sync.Mutex
	calls    map[string]int
	identity map[string]bool
	fail     map[string]bool
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{
		calls:    map[string]int{},
		identity: map[string]bool{},
		fail:     map[string]bool{},
	}
}

func (t *fakeTranslator) Translate(_ context.Context, text, target string) (string, error) {
	t.mu.Lock()
	t.calls[target]++
	t.mu.Unlock()
	if t.fail[target] {
		return "", errors.New("translate backend down")
	}
	if t.identity[target] {
		return text, nil
	}
	return "[" + target + "] " + text, nil
}

type sent struct {
	chatID  int64
	text    string
	replyTo int
}

type fakeMessenger struct {
	mu    sync.Mutex
	sends []sent
	fail  map[string]bool // by rendered text
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, replyTo int) error {
	if m.fail[text] {
		return errors.New("send rejected")
	}
	m.mu.Lock()
	m.sends = append(m.sends, sent{chatID, text, replyTo})
	m.mu.Unlock()
	return nil
}

func newEngine(dir *fakeDirectory, tr *fakeTranslator, msn *fakeMessenger) *fanout.Engine {
	return fanout.New(dir, tr, msn, logx.Nop(), nil)
}

func TestFanoutOneTranslationPerLanguage(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "en"},
		{UserID: 2, Language: "fr"},
		{UserID: 3, Language: "fr"},
		{UserID: 4, Language: "fr"},
		{UserID: 5, Language: "de"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hello", 7)
	require.NoError(t, err)

	require.Equal(t, 3, rep.Languages)
	require.Equal(t, 3, rep.Translated)
	require.Equal(t, map[string]int{"en": 1, "fr": 1, "de": 1}, tr.calls)
}

func TestFanoutSenderNeverReceives(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "en"},
		{UserID: 2, Language: "en"},
		{UserID: 3, Language: "fr"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hello", 0)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Delivered)

	for _, d := range rep.Deliveries {
		require.NotContains(t, d.Recipients, int64(1), "sender must not be a recipient for %s", d.Language)
	}
}

func TestFanoutSenderOnlyLanguageTranslatedButNotDelivered(t *testing.T) {
	// The sender is the only German reader; German is still translated (one
	// call per distinct language) but never delivered.
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "de"},
		{UserID: 2, Language: "en"},
		{UserID: 3, Language: "fr"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hallo", 0)
	require.NoError(t, err)

	require.Equal(t, 3, rep.Translated)
	require.Equal(t, 2, rep.Delivered)
	require.Len(t, rep.Skips, 1)
	require.Equal(t, "de", rep.Skips[0].Language)
	require.Equal(t, fanout.SkipSenderOnly, rep.Skips[0].Reason)
}

func TestFanoutIdenticalTranslationSkipped(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "fr"},
		{UserID: 2, Language: "fr"},
		{UserID: 3, Language: "en"},
		{UserID: 4, Language: "en"},
	}}
	tr := newFakeTranslator()
	tr.identity["en"] = true
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "ok", 0)
	require.NoError(t, err)

	require.Equal(t, 2, rep.Translated)
	require.Equal(t, 1, rep.Delivered)
	require.Len(t, rep.Skips, 1)
	require.Equal(t, fanout.SkipIdenticalToSource, rep.Skips[0].Reason)
}

func TestFanoutTranslationFailureDoesNotAbortOthers(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "es"},
		{UserID: 2, Language: "en"},
		{UserID: 3, Language: "fr"},
		{UserID: 4, Language: "es"},
	}}
	tr := newFakeTranslator()
	tr.fail["en"] = true
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hola", 0)
	require.NoError(t, err)

	require.Equal(t, 2, rep.Translated)
	require.Equal(t, 2, rep.Delivered)
	require.Len(t, rep.Skips, 1)
	require.Equal(t, "en", rep.Skips[0].Language)
	require.Equal(t, fanout.SkipTranslationFailed, rep.Skips[0].Reason)
	require.Error(t, rep.Skips[0].Err)
}

func TestFanoutDeliveryFailureDoesNotAbortOthers(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "es"},
		{UserID: 2, Language: "en"},
		{UserID: 3, Language: "fr"},
		{UserID: 4, Language: "es"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{fail: map[string]bool{"[en] hola": true}}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hola", 0)
	require.NoError(t, err)

	require.Equal(t, 3, rep.Translated)
	require.Equal(t, 2, rep.Delivered)
	require.Len(t, rep.Skips, 1)
	require.Equal(t, fanout.SkipDeliveryFailed, rep.Skips[0].Reason)
}

func TestFanoutMembersWithoutPreferenceExcluded(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "en"},
		{UserID: 2, Language: ""},
		{UserID: 3, Language: "fr"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hi", 0)
	require.NoError(t, err)

	require.Equal(t, 2, rep.Languages)
	require.Zero(t, tr.calls[""])
}

func TestFanoutWhitespaceOnlyIsNoop(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{{UserID: 1, Language: "en"}}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "  \n\t ", 0)
	require.NoError(t, err)

	require.Zero(t, rep.Languages)
	require.Empty(t, tr.calls)
	require.Empty(t, msn.sends)
}

func TestFanoutDirectoryErrorIsFatalToThisPass(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("db closed")}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	rep, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hello", 0)
	require.Error(t, err)

	require.Zero(t, rep.Translated)
	require.Empty(t, tr.calls)
	require.Empty(t, msn.sends)
}

func TestFanoutDeliveriesThreadToSource(t *testing.T) {
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "en"},
		{UserID: 2, Language: "fr"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}

	_, err := newEngine(dir, tr, msn).Fanout(context.Background(), 10, 1, "hello", 42)
	require.NoError(t, err)

	require.NotEmpty(t, msn.sends)
	for _, s := range msn.sends {
		require.Equal(t, int64(10), s.chatID)
		require.Equal(t, 42, s.replyTo)
	}
}

func TestFanoutRepeatedPassesAreStable(t *testing.T) {
	// With an unchanged roster, every pass groups identically and issues one
	// translation per distinct language.
	dir := &fakeDirectory{members: []fanout.Member{
		{UserID: 1, Language: "en"},
		{UserID: 2, Language: "en"},
		{UserID: 3, Language: "fr"},
		{UserID: 4, Language: "es"},
	}}
	tr := newFakeTranslator()
	msn := &fakeMessenger{}
	eng := newEngine(dir, tr, msn)

	first, err := eng.Fanout(context.Background(), 10, 1, "hello", 0)
	require.NoError(t, err)
	second, err := eng.Fanout(context.Background(), 10, 1, "hello", 0)
	require.NoError(t, err)

	require.Equal(t, first.Languages, second.Languages)
	require.Equal(t, first.Translated, second.Translated)
	require.Equal(t, first.Delivered, second.Delivered)
	require.Equal(t, first.Deliveries, second.Deliveries)
	require.Equal(t, map[string]int{"en": 2, "fr": 2, "es": 2}, tr.calls)
}
