package fanout

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"babelbot/internal/eventbus"
	logx "babelbot/pkg/logx"
)

// Member is a chat member as seen by the engine: an opaque user id plus their
// preferred language ("" when unset).
type Member struct {
	UserID   int64
	Language string
}

// Directory is the membership read model. Implementations may serve stale
// snapshots; the engine tolerates members joining/leaving between the read
// and the deliveries.
type Directory interface {
	ListMembers(ctx context.Context, chatID int64) ([]Member, error)
}

// Translator translates text into a target language. A failed call only
// affects that language's delivery.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// Messenger delivers one message to a chat, optionally threaded as a reply.
// The platform broadcasts to the whole chat audience per call; per-recipient
// addressing is not this layer's concern.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) error
}

type SkipReason string

const (
	SkipTranslationFailed SkipReason = "translation_failed"
	SkipIdenticalToSource SkipReason = "identical_to_source"
	SkipSenderOnly        SkipReason = "sender_only_recipient"
	SkipDeliveryFailed    SkipReason = "delivery_failed"
)

type Skip struct {
	Language string
	Reason   SkipReason
	Err      error
}

// Delivery records one successful per-language send and the members it was
// aimed at (everyone in the language group except the sender).
type Delivery struct {
	Language   string
	Recipients []int64
}

// DispatchReport summarizes one fan-out: how many distinct languages were
// grouped, how many were translated and delivered, and which were skipped and
// why. A fully failed fan-out still yields a report.
type DispatchReport struct {
	ChatID     int64
	SenderID   int64
	Languages  int
	Translated int
	Delivered  int
	Deliveries []Delivery
	Skips      []Skip
}

// Engine fans one inbound message out as translated variants: one Translator
// call and at most one Messenger call per distinct preferred language present
// in the chat.
type Engine struct {
	dir Directory
	tr  Translator
	msn Messenger
	log logx.Logger
	bus eventbus.Bus
}

func New(dir Directory, tr Translator, msn Messenger, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{dir: dir, tr: tr, msn: msn, log: log, bus: bus}
}

// Fanout translates source text once per distinct member language and
// delivers each variant to the chat, threaded as a reply to message replyTo.
//
// Guarantees:
//   - exactly one Translator call per distinct language, regardless of how
//     many members prefer it;
//   - at most one Messenger call per language;
//   - the sender never counts as a recipient, even when others share their
//     language;
//   - a failure for one language never aborts the others.
//
// A Directory read failure is fatal to this fan-out only: the report and the
// error are both returned, and nothing is sent.
func (e *Engine) Fanout(ctx context.Context, chatID, senderID int64, text string, replyTo int) (DispatchReport, error) {
	rep := DispatchReport{ChatID: chatID, SenderID: senderID}

	// Whitespace-only input translates to nothing useful; skip the whole pass.
	if strings.TrimSpace(text) == "" {
		return rep, nil
	}

	members, err := e.dir.ListMembers(ctx, chatID)
	if err != nil {
		e.log.Error("member lookup failed; dropping fan-out", logx.Int64("chat_id", chatID), logx.Err(err))
		return rep, fmt.Errorf("list members for chat %d: %w", chatID, err)
	}

	groups := groupByLanguage(members)
	rep.Languages = len(groups)

	// Deterministic order keeps logs and tests stable; the contract imposes no
	// cross-language ordering.
	langs := make([]string, 0, len(groups))
	for lang := range groups {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	for _, lang := range langs {
		translated, err := e.tr.Translate(ctx, text, lang)
		if err != nil {
			e.log.Warn("translation failed; skipping language",
				logx.Int64("chat_id", chatID), logx.String("lang", lang), logx.Err(err))
			rep.Skips = append(rep.Skips, Skip{Language: lang, Reason: SkipTranslationFailed, Err: err})
			continue
		}
		rep.Translated++

		// Recipients already understand the original.
		if translated == text {
			rep.Skips = append(rep.Skips, Skip{Language: lang, Reason: SkipIdenticalToSource})
			continue
		}

		recipients := withoutSender(groups[lang], senderID)
		if len(recipients) == 0 {
			rep.Skips = append(rep.Skips, Skip{Language: lang, Reason: SkipSenderOnly})
			continue
		}

		if err := e.msn.Send(ctx, chatID, translated, replyTo); err != nil {
			e.log.Warn("delivery failed; no retry",
				logx.Int64("chat_id", chatID), logx.String("lang", lang), logx.Err(err))
			rep.Skips = append(rep.Skips, Skip{Language: lang, Reason: SkipDeliveryFailed, Err: err})
			continue
		}
		rep.Delivered++
		rep.Deliveries = append(rep.Deliveries, Delivery{Language: lang, Recipients: recipients})
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatch, Data: rep})
	}
	return rep, nil
}

// groupByLanguage partitions members by preferred language. Members without a
// preference belong to no group: they neither trigger a translation nor
// receive one.
func groupByLanguage(members []Member) map[string][]int64 {
	groups := make(map[string][]int64)
	for _, m := range members {
		if m.Language == "" {
			continue
		}
		groups[m.Language] = append(groups[m.Language], m.UserID)
	}
	return groups
}

func withoutSender(ids []int64, senderID int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}
