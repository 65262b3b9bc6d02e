package monitor

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ecowatch/pkg/common"
	"ecowatch/pkg/quota"
	"go.uber.org/zap"
)

var (
	ErrDuplicateSchedule = errors.New("schedule already registered")
	ErrUnknownSchedule   = errors.New("unknown schedule")
)

// Schedule is one named polling job. LastRun zero means it has never run and
// is immediately due.
type Schedule struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	Selector quota.Selector
	LastRun  time.Time
}

// ScheduleUpdate is a partial override: nil fields keep their prior value.
// Metrics takes the config shapes ("all" or a key list).
type ScheduleUpdate struct {
	IntervalSeconds *int
	Enabled         *bool
	Metrics         any
}

// Registry holds the polling schedules. Schedules are created at startup and
// reconfigured at runtime, never deleted, only disabled. The scheduler loop
// and the HTTP server touch it concurrently.
type Registry struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
}

func NewRegistry() *Registry {
	return &Registry{schedules: make(map[string]*Schedule)}
}

// Register adds a schedule. A non-positive interval registers as disabled so
// the schedule stays visible and can be re-enabled with a sane interval, but
// never trips the due check.
func (r *Registry) Register(s Schedule) error {
	logger := registryLogger()

	if s.Name == "" {
		return fmt.Errorf("schedule name must not be empty")
	}
	if s.Selector.IsZero() {
		return fmt.Errorf("schedule %q needs a metric selector", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schedules[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSchedule, s.Name)
	}
	if s.Interval <= 0 && s.Enabled {
		logger.Warn("Schedule has a non-positive interval, registering as disabled",
			zap.String("schedule", s.Name),
			zap.Duration("interval", s.Interval))
		s.Enabled = false
	}

	sched := s
	r.schedules[s.Name] = &sched

	logger.Info("Registered schedule",
		zap.String("schedule", s.Name),
		zap.Duration("interval", s.Interval),
		zap.Bool("enabled", s.Enabled),
		zap.String("metrics", s.Selector.String()))
	return nil
}

// Update merges the provided fields into an existing schedule. The whole
// patch is validated first, so a rejected update leaves the schedule exactly
// as it was.
func (r *Registry) Update(name string, patch ScheduleUpdate) error {
	logger := registryLogger()

	var newSelector *quota.Selector
	if patch.Metrics != nil {
		sel, err := quota.ParseSelector(patch.Metrics)
		if err != nil {
			return err
		}
		newSelector = &sel
	}
	if patch.IntervalSeconds != nil && *patch.IntervalSeconds < 0 {
		return fmt.Errorf("schedule %q: interval must not be negative", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sched, exists := r.schedules[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}

	if patch.IntervalSeconds != nil {
		sched.Interval = time.Duration(*patch.IntervalSeconds) * time.Second
		if sched.Interval <= 0 {
			sched.Enabled = false
		}
	}
	if patch.Enabled != nil {
		if *patch.Enabled && sched.Interval <= 0 {
			logger.Warn("Refusing to enable schedule with a non-positive interval",
				zap.String("schedule", name))
		} else {
			sched.Enabled = *patch.Enabled
		}
	}
	if newSelector != nil {
		sched.Selector = *newSelector
	}

	logger.Info("Updated schedule",
		zap.String("schedule", name),
		zap.Duration("interval", sched.Interval),
		zap.Bool("enabled", sched.Enabled),
		zap.String("metrics", sched.Selector.String()))
	return nil
}

// DueSchedules returns the enabled schedules whose interval has elapsed
// since their last run, shortest interval first so latency-sensitive
// schedules dispatch ahead of slower ones. Ties break on name to keep the
// dispatch order deterministic.
func (r *Registry) DueSchedules(now time.Time) []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Schedule
	for _, sched := range r.schedules {
		if !sched.Enabled || sched.Interval <= 0 {
			continue
		}
		if sched.LastRun.IsZero() || now.Sub(sched.LastRun) >= sched.Interval {
			due = append(due, *sched)
		}
	}
	slices.SortFunc(due, func(a, b Schedule) int {
		if a.Interval != b.Interval {
			return cmp.Compare(a.Interval, b.Interval)
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return due
}

// MarkRun stamps the schedule's last run. The pipeline calls it only after a
// fully successful tick; failed ticks leave LastRun alone so the schedule
// stays due and retries on the next wake.
func (r *Registry) MarkRun(name string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sched, exists := r.schedules[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	sched.LastRun = now
	return nil
}

func (r *Registry) Get(name string) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sched, exists := r.schedules[name]
	if !exists {
		return Schedule{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return *sched, nil
}

// Snapshot returns a copy of every schedule, sorted by name.
func (r *Registry) Snapshot() []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Schedule, 0, len(r.schedules))
	for _, sched := range r.schedules {
		out = append(out, *sched)
	}
	slices.SortFunc(out, func(a, b Schedule) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// NextDue reports the earliest upcoming due instant across enabled
// schedules. ok is false when no schedule is enabled.
func (r *Registry) NextDue(now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next time.Time
	found := false
	for _, sched := range r.schedules {
		if !sched.Enabled || sched.Interval <= 0 {
			continue
		}
		at := now
		if !sched.LastRun.IsZero() {
			at = sched.LastRun.Add(sched.Interval)
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

func registryLogger() *zap.Logger {
	return common.GetLoggerWith(
		common.LoggerNameScheduler,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryRegistry),
	)
}
