package telegram

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "babelbot/internal/runtime/supervisor"
	kit "babelbot/internal/transport"
	logx "babelbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// stopPoll halts the underlying poll loop. Called exactly once per Start,
	// from the stop watcher goroutine.
	stopPoll func()

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.stopPoll = b.Stop
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: messageFrom(m)})
		return nil
	})

	a.bot.Handle(tele.OnVoice, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Voice == nil {
			return nil
		}
		km := messageFrom(m)
		km.VoiceFileID = m.Voice.FileID
		a.sendUpdate(kit.Update{Kind: kit.UpdateVoice, Message: km})
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserJoined == nil {
			return nil
		}
		// Ignore the bot's own join; admission is driven by my_chat_member.
		if a.bot.Me != nil && m.UserJoined.ID == a.bot.Me.ID {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMemberJoined, Member: memberFrom(m.Chat, m.UserJoined)})
		return nil
	})

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserLeft == nil {
			return nil
		}
		if a.bot.Me != nil && m.UserLeft.ID == a.bot.Me.ID {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMemberLeft, Member: memberFrom(m.Chat, m.UserLeft)})
		return nil
	})

	// Bot added to / removed from a chat (status transition of the bot itself).
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		mu := c.ChatMember()
		if mu == nil || mu.Chat == nil || mu.NewChatMember == nil {
			return nil
		}
		wasIn := mu.OldChatMember != nil && inChat(mu.OldChatMember.Role)
		isIn := inChat(mu.NewChatMember.Role)

		switch {
		case isIn && !wasIn:
			a.sendUpdate(kit.Update{Kind: kit.UpdateBotAdded, Member: memberFrom(mu.Chat, mu.Sender)})
		case !isIn && wasIn:
			a.sendUpdate(kit.Update{Kind: kit.UpdateBotRemoved, Member: memberFrom(mu.Chat, mu.Sender)})
		}
		return nil
	})
}

func inChat(r tele.MemberStatus) bool {
	switch r {
	case tele.Left, tele.Kicked:
		return false
	default:
		return true
	}
}

func messageFrom(m *tele.Message) *kit.Message {
	return &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromFullName: strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
		Text:         m.Text,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
}

func memberFrom(chat *tele.Chat, u *tele.User) *kit.MemberChange {
	mc := &kit.MemberChange{ChatID: chat.ID, ChatTitle: chat.Title}
	if u != nil {
		mc.UserID = u.ID
		mc.Username = u.Username
		mc.FullName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return mc
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Ensure telebot stops when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.stopPoll != nil {
			a.stopPoll()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	// Cancelling the supervisor wakes telebot.stop_on_cancel, which owns the
	// single bot.Stop call. Telebot's Stop sends on an unbuffered channel, so
	// a second call would park a goroutine forever.
	if sup != nil {
		sup.Cancel()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}

	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (int, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: chatID}
	first := 0
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return first, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
		// Thread only the first chunk as a reply; continuations read better unthreaded.
		if i == 0 && opt.ReplyTo != 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = msg.ID
		}
	}
	return first, nil
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Adapter) LeaveChat(ctx context.Context, chatID int64) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return a.bot.Leave(&tele.Chat{ID: chatID})
}
