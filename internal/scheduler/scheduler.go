// Package scheduler runs the sync engine on a fixed cadence: one pass to
// completion, then a fixed delay, then the next pass. Passes never overlap.
// A failing or panicking pass is logged and the loop continues.
//
// It can also drive an optional cron-scheduled digest job (admin stats
// summary) from the same service.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Config struct {
	// Interval is the delay between the end of one pass and the start of
	// the next (not start-to-start).
	Interval time.Duration
	// DigestCron is an optional cron spec; empty disables the digest job.
	DigestCron string
}

type Service struct {
	run    func(ctx context.Context) error
	digest func(ctx context.Context)
	log    zerolog.Logger

	intervalNs atomic.Int64
	digestSpec cron.Schedule

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New validates the config and builds the service. runPass is mandatory;
// digest may be nil when no cron spec is configured.
func New(cfg Config, runPass func(ctx context.Context) error, digest func(ctx context.Context), log zerolog.Logger) (*Service, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	s := &Service{run: runPass, digest: digest, log: log}
	s.intervalNs.Store(int64(cfg.Interval))

	if spec := strings.TrimSpace(cfg.DigestCron); spec != "" {
		// SecondOptional accepts both 5-field and 6-field specs.
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		sched, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: digest cron %q: %w", spec, err)
		}
		s.digestSpec = sched
	}
	return s, nil
}

// SetInterval applies a new pass delay. Takes effect after the in-flight
// pass's delay elapses.
func (s *Service) SetInterval(d time.Duration) {
	if d > 0 {
		s.intervalNs.Store(int64(d))
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.passLoop(rctx)
	}()

	if s.digestSpec != nil && s.digest != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.digestLoop(rctx)
		}()
	}
	s.log.Info().Dur("interval", time.Duration(s.intervalNs.Load())).Bool("digest", s.digestSpec != nil).Msg("scheduler started")
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Service) passLoop(ctx context.Context) {
	for {
		s.runOnce(ctx)
		delay := time.Duration(s.intervalNs.Load())
		s.log.Debug().Time("next_pass", time.Now().Add(delay)).Msg("pass scheduled")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce isolates a single pass: errors are logged, panics are recovered.
// A bad cycle never terminates the loop.
func (s *Service) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in sync pass")
		}
	}()
	if err := s.run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("sync pass failed")
	}
}

func (s *Service) digestLoop(ctx context.Context) {
	for {
		next := s.digestSpec.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in digest job")
				}
			}()
			s.digest(ctx)
		}()
	}
}
