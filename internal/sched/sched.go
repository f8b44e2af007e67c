// Package sched is a thin wrapper over robfig/cron for the bot's recurring
// background jobs (currently the daily usage reset).
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "babelbot/pkg/logx"
)

type jobDef struct {
	name    string
	spec    string
	run     func(ctx context.Context)
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	// runCtx is the context passed to jobs; set on Start, canceled on Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddEvery registers a fixed-interval job ("@every <d>" under the hood).
func (s *Service) AddEvery(name string, every time.Duration, run func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be > 0", name)
	}
	return s.AddCron(name, "@every "+every.String(), run)
}

// AddCron registers a cron-spec job. If the service is already started the
// entry becomes active immediately.
func (s *Service) AddCron(name, spec string, run func(ctx context.Context)) error {
	if run == nil {
		return fmt.Errorf("schedule %s: job required", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	def := jobDef{name: name, spec: spec, run: run}
	if s.c != nil {
		id, err := s.c.AddFunc(spec, s.wrap(name, run))
		if err != nil {
			return err
		}
		def.entryID = id
	}
	s.defs = append(s.defs, def)
	return nil
}

// wrap guards a job with panic recovery and hands it the run context.
func (s *Service) wrap(name string, run func(ctx context.Context)) func() {
	return func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scheduled job panicked",
					logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()

		start := time.Now()
		s.log.Debug("scheduled job start", logx.String("job", name))
		run(ctx)
		s.log.Debug("scheduled job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser))
	for i := range s.defs {
		id, err := s.c.AddFunc(s.defs[i].spec, s.wrap(s.defs[i].name, s.defs[i].run))
		if err != nil {
			s.log.Error("schedule registration failed", logx.String("job", s.defs[i].name), logx.Err(err))
			continue
		}
		s.defs[i].entryID = id
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.defs)))
}

// Stop halts triggering and cancels the context seen by running jobs. It
// waits for in-flight jobs up to the given context's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("scheduler stopped")
}
