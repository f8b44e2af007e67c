package telegram

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kit "babelbot/internal/transport"
	logx "babelbot/pkg/logx"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %#v", got)
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	s := strings.Repeat("a", 250)
	for _, chunk := range splitText(s, 100) {
		if n := len([]rune(chunk)); n > 100 {
			t.Errorf("chunk of %d runes exceeds limit", n)
		}
	}
}

func TestSplitTextPrefersNewlineBoundary(t *testing.T) {
	s := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitText(s, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0] != strings.Repeat("x", 60) {
		t.Errorf("first chunk should break at the newline, got %q", got[0])
	}
	if got[1] != strings.Repeat("y", 60) {
		t.Errorf("second chunk should start after the newline, got %q", got[1])
	}
}

func TestSplitTextKeepsAllContent(t *testing.T) {
	s := strings.Repeat("word ", 500)
	var b strings.Builder
	for _, chunk := range splitText(s, 300) {
		b.WriteString(chunk)
	}
	if b.String() != s {
		t.Error("splitting text without newlines must not drop characters")
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	s := strings.Repeat("héllo wörld ", 40)
	for _, chunk := range splitText(s, 50) {
		if n := len([]rune(chunk)); n > 50 {
			t.Errorf("chunk of %d runes exceeds limit", n)
		}
	}
}

func TestStopHaltsPollerExactlyOnce(t *testing.T) {
	a := &Adapter{log: logx.Nop()}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)

	// Mimic telebot's Stop: a send on an unbuffered channel drained by a
	// single receiver. A second call would park its caller forever.
	var calls int32
	stopped := make(chan struct{})
	a.stopPoll = func() {
		atomic.AddInt32(&calls, 1)
		stopped <- struct{}{}
	}
	go func() { <-stopped }()

	updates := make(chan kit.Update, 1)
	if err := a.Start(context.Background(), updates); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("poller stopped %d times, want exactly 1", n)
	}
}
