package monitor

import (
	"context"
	"sync"
	"time"

	"ecowatch/pkg/common"
	"ecowatch/pkg/store"
	"go.uber.org/zap"
)

// TickRunner is the scheduler's seam to the ingestion pipeline.
type TickRunner interface {
	RunTick(ctx context.Context, schedule string, now time.Time) error
}

type lifecycleState int

const (
	stateStopped lifecycleState = iota
	stateRunning
	stateStopRequested
)

// maxIdleWait bounds how long the loop sleeps even when nothing is due, so
// schedules enabled at runtime get picked up promptly.
const maxIdleWait = 30 * time.Second

// Stats is a snapshot of the loop's counters for the status endpoint.
type Stats struct {
	TicksTotal int64     `json:"ticksTotal"`
	TickErrors int64     `json:"tickErrors"`
	LastTickAt time.Time `json:"lastTickAt"`
}

type SchedulerConfig struct {
	MinTick             time.Duration // lower bound on the loop's sleep
	MaintenanceInterval time.Duration // how often prune/rollup housekeeping runs
	Retention           time.Duration // readings older than now-Retention are pruned
}

// Scheduler is the single coordinating loop. Each wake it dispatches every
// due schedule sequentially (no concurrent ticks, so the store sees one
// writer), runs housekeeping when its interval has elapsed, then sleeps
// until the next due instant. Ticks are never cancelled mid-flight; stopping
// waits for the cycle in progress to finish.
type Scheduler struct {
	registry *Registry
	runner   TickRunner
	store    *store.Store

	minTick             time.Duration
	maintenanceInterval time.Duration
	retention           time.Duration

	clock func() time.Time

	mu              sync.Mutex
	state           lifecycleState
	stopCh          chan struct{}
	doneCh          chan struct{}
	lastMaintenance time.Time
	stats           Stats
}

func NewScheduler(registry *Registry, runner TickRunner, st *store.Store, cfg SchedulerConfig) *Scheduler {
	if cfg.MinTick <= 0 {
		cfg.MinTick = time.Second
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	return &Scheduler{
		registry:            registry,
		runner:              runner,
		store:               st,
		minTick:             cfg.MinTick,
		maintenanceInterval: cfg.MaintenanceInterval,
		retention:           cfg.Retention,
		clock:               time.Now,
	}
}

// Start launches the loop goroutine. Calling it while the loop is running or
// winding down is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStopped {
		return
	}
	s.state = stateRunning
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.loopLogger().Info("Scheduler starting",
		zap.Duration("minTick", s.minTick),
		zap.Duration("maintenanceInterval", s.maintenanceInterval),
		zap.Duration("retention", s.retention))

	go s.loop(s.stopCh, s.doneCh)
}

// Stop requests a graceful stop and blocks until the in-flight cycle ends.
// No new ticks are dispatched after the request. Concurrent callers all
// block until the loop has exited; stopping an already stopped scheduler is
// a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	if s.state == stateRunning {
		s.state = stateStopRequested
		close(s.stopCh)
	}
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return "running"
	case stateStopRequested:
		return "stop_requested"
	default:
		return "stopped"
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	// The loop owns the final state flip so every Stop caller that wakes on
	// done observes a stopped scheduler.
	defer func() {
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
		s.loopLogger().Info("Scheduler stopped")
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		s.runCycle(stop)

		// Rebase on a fresh clock reading: tick work blocks for fetch
		// latency and the sleep must not inherit that drift.
		wait := s.nextWait(s.clock())

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle dispatches every due schedule once, checking for a stop request
// between dispatches, then runs maintenance when its interval has elapsed.
// Tick errors are counted and logged; they never abort the cycle.
func (s *Scheduler) runCycle(stop <-chan struct{}) {
	logger := s.loopLogger()
	now := s.clock()

	for _, sched := range s.registry.DueSchedules(now) {
		select {
		case <-stop:
			return
		default:
		}

		tickStart := s.clock()
		err := s.runner.RunTick(context.Background(), sched.Name, tickStart)
		s.recordTick(tickStart, err)
		if err != nil {
			logger.Error("Tick failed, will retry at next due check",
				zap.String("schedule", sched.Name),
				zap.Error(err))
		}
	}

	s.maybeRunMaintenance()
}

func (s *Scheduler) recordTick(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TicksTotal++
	if err != nil {
		s.stats.TickErrors++
	}
	s.stats.LastTickAt = at
}

// maybeRunMaintenance prunes expired readings and recomputes the rollups for
// yesterday and today. Covering both days on every pass makes the midnight
// boundary crossing safe to repeat.
func (s *Scheduler) maybeRunMaintenance() {
	now := s.clock()

	s.mu.Lock()
	due := s.lastMaintenance.IsZero() || now.Sub(s.lastMaintenance) >= s.maintenanceInterval
	if due {
		s.lastMaintenance = now
	}
	s.mu.Unlock()

	if !due || s.store == nil {
		return
	}

	logger := common.GetLoggerWith(
		common.LoggerNameScheduler,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryMaintenance),
	)

	if s.retention > 0 {
		cutoff := now.Add(-s.retention)
		pruned, err := s.store.PruneOlderThan(cutoff)
		if err != nil {
			logger.Error("Retention prune failed", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("Pruned expired readings",
				zap.Int64("rows", pruned),
				zap.Time("cutoff", cutoff))
		}
	}

	today := now.UTC()
	for _, day := range []time.Time{today.Add(-24 * time.Hour), today} {
		written, err := s.store.RollupDaily(day)
		if err != nil {
			logger.Error("Daily rollup failed",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err))
			continue
		}
		if written > 0 {
			logger.Info("Daily rollup updated",
				zap.String("day", day.Format("2006-01-02")),
				zap.Int("metrics", written))
		}
	}
}

// nextWait computes how long the loop may sleep: until the next due schedule
// or maintenance run, clamped to [minTick, maxIdleWait].
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	wait := maxIdleWait

	if next, ok := s.registry.NextDue(now); ok {
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}

	s.mu.Lock()
	if !s.lastMaintenance.IsZero() {
		if d := s.lastMaintenance.Add(s.maintenanceInterval).Sub(now); d < wait {
			wait = d
		}
	}
	s.mu.Unlock()

	if wait < s.minTick {
		wait = s.minTick
	}
	return wait
}

func (s *Scheduler) loopLogger() *zap.Logger {
	return common.GetLoggerWith(
		common.LoggerNameScheduler,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryTick),
	)
}
