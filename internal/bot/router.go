// Package bot routes inbound chat updates to the translation fan-out, the
// conversational responder, voice transcription and the membership
// lifecycle handlers.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"babelbot/internal/fanout"
	"babelbot/internal/runtime/supervisor"
	"babelbot/internal/storage"
	"babelbot/internal/tenancy"
	"babelbot/internal/transport"
	"babelbot/internal/usage"
	logx "babelbot/pkg/logx"
)

// Turn is one prior conversation turn handed to the responder.
type Turn struct {
	Role    string
	Content string
}

// Responder produces a conversational reply given prior turns and the new
// user message.
type Responder interface {
	Respond(ctx context.Context, history []Turn, user string) (string, error)
}

// Transcriber converts voice audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// LanguageChecker validates a language code against the translation backend.
type LanguageChecker interface {
	Supports(ctx context.Context, code string) (bool, error)
}

type Config struct {
	DefaultLanguage string        // preference seeded for newly greeted members
	HistoryLimit    int           // responder context window, 0 = 20
	HandlerTimeout  time.Duration // per-update budget, 0 = 30s
}

type Router struct {
	adapter transport.Adapter
	store   storage.Store
	engine  *fanout.Engine
	gate    *tenancy.Gate
	usage   *usage.Counter
	langs   LanguageChecker
	resp    Responder
	trans   Transcriber
	log     logx.Logger

	defaultLang  string
	historyLimit int
	handle       HandlerFunc

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

type Deps struct {
	Adapter     transport.Adapter
	Store       storage.Store
	Engine      *fanout.Engine
	Gate        *tenancy.Gate
	Usage       *usage.Counter
	Langs       LanguageChecker
	Responder   Responder
	Transcriber Transcriber
	Log         logx.Logger
}

func NewRouter(d Deps, cfg Config) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	r := &Router{
		adapter:      d.Adapter,
		store:        d.Store,
		engine:       d.Engine,
		gate:         d.Gate,
		usage:        d.Usage,
		langs:        d.Langs,
		resp:         d.Responder,
		trans:        d.Transcriber,
		log:          log,
		defaultLang:  cfg.DefaultLanguage,
		historyLimit: limit,
		jobs:         make(chan func(), 256),
	}
	r.handle = Chain(r.route,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWTimeout(timeout),
	)
	return r
}

// DispatchLoop consumes adapter updates until ctx is canceled or the channel
// closes. Handlers run on a bounded worker pool so one slow translation
// round cannot stall the intake.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setRunning(true)
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setRunning(false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already catches panics; keep the worker
					// alive if a job slips one through anyway.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in update job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())),
								)
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("dispatcher stopped (updates channel closed)")
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) setRunning(v bool) {
	r.runMu.Lock()
	r.running = v
	r.runMu.Unlock()
}

func (r *Router) enqueue(ctx context.Context, up transport.Update) {
	req := &Request{
		Update: up,
		ReqID:  uuid.NewString(),
	}
	req.Logger = r.log.With(logx.String("req_id", req.ReqID))

	job := func() { _ = r.handle(ctx, req) }

	ok := func() (ok bool) {
		// The jobs channel closes during shutdown; a racing enqueue must not
		// bring down the intake loop.
		defer func() {
			if rec := recover(); rec != nil {
				ok = false
			}
		}()
		select {
		case r.jobs <- job:
			return true
		default:
			return false
		}
	}()
	if !ok {
		req.Logger.Warn("update dropped, queue full or closing")
	}
}

func (r *Router) route(ctx context.Context, req *Request) error {
	switch req.Update.Kind {
	case transport.UpdateMessage:
		return r.handleMessage(ctx, req)
	case transport.UpdateVoice:
		return r.handleVoice(ctx, req)
	case transport.UpdateMemberJoined:
		return r.handleMemberJoined(ctx, req)
	case transport.UpdateMemberLeft:
		return r.handleMemberLeft(ctx, req)
	case transport.UpdateBotAdded:
		return r.handleBotAdded(ctx, req)
	case transport.UpdateBotRemoved:
		return r.handleBotRemoved(ctx, req)
	default:
		return nil
	}
}
