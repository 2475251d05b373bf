// Package schedule runs named periodic jobs on a shared cron instance.
//
// Jobs are interval-based, panic-safe, and overlap-protected: a tick that
// fires while the previous run is still going is skipped, not queued.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "dropbot/pkg/logx"
)

type Job func(ctx context.Context) error

type Service struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	started bool
	pending []pendingJob
}

type pendingJob struct {
	name  string
	every time.Duration
	job   Job
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log}
}

// AddInterval registers a job that runs every `every`. Jobs added before
// Start() begin on the first tick after Start(); jobs added after Start()
// are scheduled immediately.
func (s *Service) AddInterval(name string, every time.Duration, job Job) error {
	if every < time.Second {
		return fmt.Errorf("schedule %q: interval %v below 1s", name, every)
	}
	if job == nil {
		return fmt.Errorf("schedule %q: nil job", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.pending = append(s.pending, pendingJob{name: name, every: every, job: job})
		return nil
	}
	s.scheduleLocked(name, every, job)
	return nil
}

func (s *Service) scheduleLocked(name string, every time.Duration, job Job) {
	var running atomic.Bool
	s.c.Schedule(cron.Every(every), cron.FuncJob(func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Debug("tick skipped; previous run still active", logx.String("job", name))
			return
		}
		defer running.Store(false)

		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := runSafe(ctx, job)
		dur := time.Since(start)
		switch {
		case err != nil:
			s.log.Warn("job failed", logx.String("job", name), logx.Err(err), logx.Duration("dur", dur))
		case dur >= 750*time.Millisecond:
			s.log.Info("job completed", logx.String("job", name), logx.Duration("dur", dur))
		default:
			s.log.Debug("job completed", logx.String("job", name), logx.Duration("dur", dur))
		}
	}))
}

func runSafe(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	// SecondOptional accepts both 5 and 6 field cron expressions.
	s.c = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	s.ctx = ctx
	s.started = true
	for _, p := range s.pending {
		s.scheduleLocked(p.name, p.every, p.job)
	}
	s.pending = nil
	s.c.Start()
	s.log.Info("schedule started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("schedule stopped")
}
