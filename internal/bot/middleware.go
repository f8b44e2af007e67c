package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"babelbot/internal/transport"
	logx "babelbot/pkg/logx"
)

// Request carries one inbound update through the middleware chain.
type Request struct {
	Update transport.Update
	ReqID  string
	Logger logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if req != nil && !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", d),
			}
			if m := req.Update.Message; m != nil {
				fields = append(fields, logx.Int64("chat_id", m.ChatID), logx.Int64("from_id", m.FromID))
			} else if mc := req.Update.Member; mc != nil {
				fields = append(fields, logx.Int64("chat_id", mc.ChatID), logx.Int64("user_id", mc.UserID))
			}
			if err != nil {
				logger.Warn("update failed", append(fields, logx.Err(err))...)
			} else {
				// Keep INFO useful: quick successful updates go to DEBUG.
				if d >= 750*time.Millisecond {
					logger.Info("update ok", fields...)
				} else {
					logger.Debug("update ok", fields...)
				}
			}
			return err
		}
	}
}
