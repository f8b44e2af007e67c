// Package tenancy bounds how many chats the bot will serve.
//
// The counter is a single global record, only ever mutated through an atomic
// conditional increment, so concurrent admissions can never overshoot the
// cap. There is intentionally no release path: the count is "chats ever
// admitted", and churned chats do not free capacity.
package tenancy

import (
	"context"
	"sync/atomic"

	"babelbot/internal/eventbus"
	logx "babelbot/pkg/logx"
)

// Store is the backing counter. IncrementBelow must be atomic: increment and
// return true iff the stored count is below max, creating the record at 1 on
// first use (iff max >= 1). A plain read-then-write implementation is a data
// race and must not be used.
type Store interface {
	IncrementBelow(ctx context.Context, max int) (bool, error)
}

type Gate struct {
	store Store
	max   atomic.Int64
	log   logx.Logger
	bus   eventbus.Bus
}

func NewGate(store Store, maxChats int, log logx.Logger, bus eventbus.Bus) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{store: store, log: log, bus: bus}
	g.max.Store(int64(maxChats))
	return g
}

// SetCapacity updates the cap (config hot reload). It affects future
// admissions only; already-admitted chats are unaffected.
func (g *Gate) SetCapacity(maxChats int) { g.max.Store(int64(maxChats)) }

func (g *Gate) Capacity() int { return int(g.max.Load()) }

// TryAdmit reports whether chatID may be served. Any store failure refuses
// admission (fail closed); the caller only ever sees a boolean.
func (g *Gate) TryAdmit(ctx context.Context, chatID int64) bool {
	max := int(g.max.Load())
	ok, err := g.store.IncrementBelow(ctx, max)
	if err != nil {
		g.log.Error("admission check failed; refusing", logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	if !ok {
		g.log.Info("admission refused (capacity reached)", logx.Int64("chat_id", chatID), logx.Int("max_chats", max))
		return false
	}
	g.log.Info("chat admitted", logx.Int64("chat_id", chatID), logx.Int("max_chats", max))
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeChatJoined, Data: chatID})
	}
	return true
}
