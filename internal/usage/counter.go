// Package usage tracks per-chat daily message counts.
//
// The counter is a process-local cache: restarts start from empty, and the
// periodic reset rebuilds the tracked set from the authoritative chat list.
package usage

import (
	"context"
	"sync"

	"babelbot/internal/eventbus"
	logx "babelbot/pkg/logx"
)

// ChatLister enumerates the chats the bot currently serves. The reset cycle
// uses it as the source of truth for which chat ids stay tracked.
type ChatLister interface {
	ListActiveChatIDs(ctx context.Context) ([]int64, error)
}

type Counter struct {
	mu     sync.Mutex
	counts map[int64]int64

	lister ChatLister
	log    logx.Logger
	bus    eventbus.Bus
}

func NewCounter(lister ChatLister, log logx.Logger, bus eventbus.Bus) *Counter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Counter{
		counts: map[int64]int64{},
		lister: lister,
		log:    log,
		bus:    bus,
	}
}

// Increment bumps the count for chatID and returns the new value. Chats not
// seen since the last reset start at zero implicitly.
func (c *Counter) Increment(chatID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[chatID]++
	return c.counts[chatID]
}

func (c *Counter) Count(chatID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[chatID]
}

// Snapshot returns a copy of all tracked counts.
func (c *Counter) Snapshot() map[int64]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Reset runs one reset cycle: rebuild the tracked set from the active chat
// list, every entry at zero. Stale chat ids are dropped; chats the lister no
// longer knows disappear entirely.
//
// The new map is built aside and swapped in whole, so concurrent Increment
// calls never observe a partially rebuilt state, and cancellation mid-cycle
// is safe.
//
// If the listing fails the counter degrades to empty rather than keeping
// stale entries alive indefinitely.
func (c *Counter) Reset(ctx context.Context) {
	fresh := map[int64]int64{}

	ids, err := c.lister.ListActiveChatIDs(ctx)
	if err != nil {
		c.log.Warn("active chat listing failed; clearing usage counts", logx.Err(err))
	} else {
		for _, id := range ids {
			fresh[id] = 0
		}
	}

	c.mu.Lock()
	c.counts = fresh
	c.mu.Unlock()

	c.log.Info("usage counts reset", logx.Int("tracked_chats", len(fresh)))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeUsageReset, Data: len(fresh)})
	}
}
