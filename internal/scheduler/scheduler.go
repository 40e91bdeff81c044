// Package scheduler runs trading cycles on a fixed interval during market
// hours, never more than one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
)

// MarketHours is a weekday time-of-day window in a timezone.
type MarketHours struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// DefaultMarketHours is the regular US equities session.
func DefaultMarketHours() MarketHours {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return MarketHours{Location: loc, OpenHour: 9, OpenMin: 30, CloseHour: 16, CloseMin: 0}
}

// IsOpen is true on weekdays from open (inclusive) to close (exclusive).
func (m MarketHours) IsOpen(t time.Time) bool {
	t = t.In(m.Location)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= m.OpenHour*60+m.OpenMin && mins < m.CloseHour*60+m.CloseMin
}

type Config struct {
	Interval time.Duration
	Hours    MarketHours
	// OnTick runs after every tick, cycle or not. Used for end-of-day work.
	OnTick func(ctx context.Context, now time.Time)
}

type Scheduler struct {
	engine interfaces.Engine
	cfg    Config
	now    func() time.Time

	enabled      atomic.Bool
	cycleRunning atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(engine interfaces.Engine, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Hours.Location == nil {
		cfg.Hours = DefaultMarketHours()
	}
	return &Scheduler{engine: engine, cfg: cfg, now: time.Now}
}

// Start begins ticking. It is a no-op when already started.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled.CompareAndSwap(false, true) {
		logger.Debug(ctx, "Scheduler already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	logger.Info(ctx, "Scheduler started", "interval", s.cfg.Interval.String())
	go s.loop(ctx, done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Trigger(ctx, false)
			if s.cfg.OnTick != nil {
				s.cfg.OnTick(ctx, s.now())
			}
		}
	}
}

// Stop cancels the ticker and waits for the loop to exit. A cycle in
// progress sees its context cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.enabled.Store(false)
}

// Trigger runs one cycle now unless one is already running or, without
// force, the market is closed. It reports whether a cycle ran.
func (s *Scheduler) Trigger(ctx context.Context, force bool) (ran bool) {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		logger.Info(ctx, "Skipping tick, previous cycle still running")
		return false
	}
	defer s.cycleRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Scheduled cycle panicked", "panic", fmt.Sprint(r))
		}
	}()

	if !force && !s.cfg.Hours.IsOpen(s.now()) {
		logger.Debug(ctx, "Market closed, skipping cycle")
		return false
	}

	ran = true
	result := s.engine.RunCycle(ctx)
	if result != nil {
		logger.Info(ctx, "Scheduled cycle finished", "cycle_id", result.ID, "outcome", result.Outcome)
	}
	return ran
}

func (s *Scheduler) Enabled() bool      { return s.enabled.Load() }
func (s *Scheduler) CycleRunning() bool { return s.cycleRunning.Load() }
