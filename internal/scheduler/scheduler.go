package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultRetryDelay = time.Minute

// Unit is one independently scheduled trading loop.
type Unit interface {
	Name() string
	Cycle(ctx context.Context) (time.Duration, error)
}

// Scheduler runs one loop per unit. In serialized mode a shared lock is held
// for the duration of a cycle so no two cycles overlap; sleeps never hold it.
type Scheduler struct {
	mode       config.ExecutionMode
	units      []Unit
	log        *zap.Logger
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

func New(mode config.ExecutionMode, units []Unit, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if mode == "" {
		mode = config.ModeSerialized
	}
	return &Scheduler{
		mode:       mode,
		units:      units,
		log:        log,
		retryDelay: defaultRetryDelay,
		sleep:      sleepContext,
	}
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.units) == 0 {
		return errors.New("scheduler: no trading units")
	}
	s.log.Info("scheduler started", zap.String("mode", string(s.mode)), zap.Int("units", len(s.units)))
	g, ctx := errgroup.WithContext(ctx)
	for _, unit := range s.units {
		unit := unit
		g.Go(func() error {
			s.loop(ctx, unit)
			return nil
		})
	}
	err := g.Wait()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, unit Unit) {
	for ctx.Err() == nil {
		wait := s.runCycle(ctx, unit)
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// runCycle executes one cycle and turns every failure, panics included, into a
// log line and a delay. One asset failing never stops the others.
func (s *Scheduler) runCycle(ctx context.Context, unit Unit) (wait time.Duration) {
	if s.mode == config.ModeSerialized {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	log := s.log.With(zap.String("pair", unit.Name()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("trading cycle panicked", zap.Error(fmt.Errorf("panic: %v", r)), zap.Stack("stack"))
			wait = s.retryDelay
		}
	}()
	if ctx.Err() != nil {
		return 0
	}

	wait, err := unit.Cycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, strategy.ErrInsufficientData):
		log.Info("not enough candles to decide", zap.Error(err))
	case errors.Is(err, market.ErrDataFetch):
		log.Warn("market data unavailable, retrying later", zap.Error(err))
	default:
		log.Error("trading cycle failed", zap.Error(err))
	}
	if wait <= 0 {
		wait = s.retryDelay
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
