// Package app assembles the bot: config, logging, storage, the translation
// fan-out pipeline, the tenancy gate, the usage counter and the Telegram
// transport, with a staged shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"babelbot/internal/ai/openai"
	"babelbot/internal/bot"
	"babelbot/internal/config"
	"babelbot/internal/eventbus"
	"babelbot/internal/fanout"
	"babelbot/internal/runtime/supervisor"
	"babelbot/internal/sched"
	"babelbot/internal/storage"
	"babelbot/internal/tenancy"
	"babelbot/internal/translate/google"
	"babelbot/internal/transport"
	"babelbot/internal/transport/telegram"
	"babelbot/internal/usage"
	logx "babelbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	engine  *fanout.Engine
	gate    *tenancy.Gate
	usage   *usage.Counter
	sched   *sched.Service
	router  *bot.Router

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	var adapter transport.Adapter = ad
	if cfg.Telegram.SendRatePerSec > 0 {
		adapter = transport.NewRateLimited(adapter, cfg.Telegram.SendRatePerSec)
	}

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	trTimeout, err := config.ParseDurationOrDefault("translator.timeout", cfg.Translator.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	langTTL, err := config.ParseDurationOrDefault("translator.languages_ttl", cfg.Translator.LanguagesTTL, time.Hour)
	if err != nil {
		return nil, err
	}
	translator, err := google.New(google.Config{
		APIKey:       cfg.Translator.APIKey,
		Endpoint:     cfg.Translator.Endpoint,
		Timeout:      trTimeout,
		LanguagesTTL: langTTL,
	}, log.With(logx.String("comp", "translate")))
	if err != nil {
		return nil, err
	}

	aiTimeout, err := config.ParseDurationOrDefault("openai.timeout", cfg.OpenAI.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	ai, err := openai.New(openai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		Endpoint:           cfg.OpenAI.Endpoint,
		CompletionModel:    cfg.OpenAI.CompletionModel,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		SystemPrompt:       cfg.OpenAI.SystemPrompt,
		Timeout:            aiTimeout,
	}, log.With(logx.String("comp", "openai")))
	if err != nil {
		return nil, err
	}

	engine := fanout.New(store, translator, &adapterMessenger{adapter},
		log.With(logx.String("comp", "fanout")), bus)
	gate := tenancy.NewGate(store, cfg.Tenancy.MaxChats,
		log.With(logx.String("comp", "tenancy")), bus)
	counter := usage.NewCounter(store, log.With(logx.String("comp", "usage")), bus)

	router := bot.NewRouter(bot.Deps{
		Adapter:     adapter,
		Store:       store,
		Engine:      engine,
		Gate:        gate,
		Usage:       counter,
		Langs:       translator,
		Responder:   &aiResponder{ai},
		Transcriber: ai,
		Log:         log.With(logx.String("comp", "bot")),
	}, bot.Config{
		DefaultLanguage: cfg.Chat.DefaultLanguage,
	})

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: adapter,
		engine:  engine,
		gate:    gate,
		usage:   counter,
		sched:   sched.New(log.With(logx.String("comp", "sched"))),
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Tenancy.MaxChats < 0 {
			return fmt.Errorf("tenancy.max_chats must be >= 0")
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("usage.reset_interval", cfg.Usage.ResetInterval); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Counter reset cycle.
	cfg := a.cfgm.Get()
	resetEvery, err := config.ParseDurationOrDefault("usage.reset_interval", cfg.Usage.ResetInterval, 24*time.Hour)
	if err != nil {
		return err
	}
	if err := a.sched.AddEvery("usage.reset", resetEvery, func(c context.Context) {
		a.usage.Reset(c)
	}); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Hot reload fan-out: logging and the admission cap apply live.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.gate.SetCapacity(newCfg.Tenancy.MaxChats)
				a.log.Info("config reloaded", logx.Int("max_chats", newCfg.Tenancy.MaxChats))
			}
		}
	})

	// Dispatch reports and admissions land on the bus; keep a debug trail.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sched", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(_ context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// adapterMessenger bridges the transport adapter to the fan-out engine.
type adapterMessenger struct {
	ad transport.Adapter
}

func (m *adapterMessenger) Send(ctx context.Context, chatID int64, text string, replyTo int) error {
	_, err := m.ad.SendText(ctx, chatID, text, &transport.SendOptions{
		ReplyTo:        replyTo,
		DisablePreview: true,
	})
	return err
}

// aiResponder converts router turns into completion-API messages.
type aiResponder struct {
	ai *openai.Client
}

func (r *aiResponder) Respond(ctx context.Context, history []bot.Turn, user string) (string, error) {
	msgs := make([]openai.Message, 0, len(history))
	for _, t := range history {
		msgs = append(msgs, openai.Message{Role: t.Role, Content: t.Content})
	}
	return r.ai.Respond(ctx, msgs, user)
}
