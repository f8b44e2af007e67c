package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Adapter so every outgoing send waits on a token
// bucket. Telegram enforces flood limits per bot; the fan-out path can emit
// several messages per inbound message, so the bound lives here rather than
// in each caller.
type RateLimited struct {
	Adapter
	lim *rate.Limiter
}

// NewRateLimited bounds sends to perSec messages per second (burst = perSec).
// perSec <= 0 disables the limit and returns the adapter unchanged.
func NewRateLimited(a Adapter, perSec int) Adapter {
	if perSec <= 0 {
		return a
	}
	return &RateLimited{Adapter: a, lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *RateLimited) SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (int, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return 0, err
	}
	return r.Adapter.SendText(ctx, chatID, text, opt)
}
