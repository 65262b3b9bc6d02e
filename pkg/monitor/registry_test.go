package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecowatch/pkg/common"
	"ecowatch/pkg/quota"
	_ "ecowatch/pkg/testing"
)

func mustSelector(t *testing.T, raw any) quota.Selector {
	t.Helper()
	sel, err := quota.ParseSelector(raw)
	require.NoError(t, err)
	return sel
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	err := r.Register(Schedule{
		Name: "critical_metrics", Interval: time.Minute, Enabled: true, Selector: quota.SelectAll(),
	})
	assert.ErrorIs(t, err, ErrDuplicateSchedule)
}

func TestRegisterRequiresNameAndSelector(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	assert.Error(t, r.Register(Schedule{Interval: time.Second, Enabled: true, Selector: quota.SelectAll()}))
	assert.Error(t, r.Register(Schedule{Name: "no_selector", Interval: time.Second, Enabled: true}))
}

func TestRegisterNormalizesNonPositiveInterval(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "broken", Interval: 0, Enabled: true, Selector: quota.SelectAll(),
	}))

	sched, err := r.Get("broken")
	require.NoError(t, err)
	assert.False(t, sched.Enabled, "a zero interval must register as disabled")
	assert.Empty(t, r.DueSchedules(time.Now()))
}

func TestDueSchedulesExcludesDisabled(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "on", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))
	require.NoError(t, r.Register(Schedule{
		Name: "off", Interval: 30 * time.Second, Enabled: false, Selector: quota.SelectAll(),
	}))

	due := r.DueSchedules(time.Now())
	require.Len(t, due, 1)
	assert.Equal(t, "on", due[0].Name)
}

func TestDueSchedulesIntervalBoundary(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Register(Schedule{
		Name: "fast", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	// Never run: immediately due.
	require.Len(t, r.DueSchedules(now), 1)

	require.NoError(t, r.MarkRun("fast", now))
	assert.Empty(t, r.DueSchedules(now.Add(29*time.Second)))
	assert.Len(t, r.DueSchedules(now.Add(30*time.Second)), 1, "an exactly elapsed interval is due")
}

func TestDueSchedulesTieBreakOrder(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	// Registered out of order on purpose.
	require.NoError(t, r.Register(Schedule{
		Name: "standard_metrics", Interval: 5 * time.Minute, Enabled: true, Selector: quota.SelectAll(),
	}))
	require.NoError(t, r.Register(Schedule{
		Name: "zz_audit", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))
	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	due := r.DueSchedules(time.Now())
	require.Len(t, due, 3)
	assert.Equal(t, "critical_metrics", due[0].Name)
	assert.Equal(t, "zz_audit", due[1].Name)
	assert.Equal(t, "standard_metrics", due[2].Name)
}

func TestUpdateUnknownSchedule(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	err := r.Update("ghost", ScheduleUpdate{})
	assert.ErrorIs(t, err, ErrUnknownSchedule)
}

func TestUpdateMergesOnlyProvidedFields(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true,
		Selector: mustSelector(t, []any{"pd.soc"}),
	}))

	interval := 60
	require.NoError(t, r.Update("critical_metrics", ScheduleUpdate{IntervalSeconds: &interval}))

	sched, err := r.Get("critical_metrics")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, sched.Interval)
	assert.True(t, sched.Enabled, "fields not in the patch keep their value")
	assert.Equal(t, []string{"pd.soc"}, sched.Selector.Resolve())

	enabled := false
	require.NoError(t, r.Update("critical_metrics", ScheduleUpdate{Enabled: &enabled}))

	sched, err = r.Get("critical_metrics")
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	assert.Equal(t, time.Minute, sched.Interval)

	require.NoError(t, r.Update("critical_metrics", ScheduleUpdate{Metrics: "all"}))

	sched, err = r.Get("critical_metrics")
	require.NoError(t, err)
	assert.True(t, sched.Selector.IsAll())
}

func TestUpdateRejectsWithoutMutation(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	negative := -5
	require.Error(t, r.Update("critical_metrics", ScheduleUpdate{
		IntervalSeconds: &negative,
		Metrics:         []any{"pd.soc"},
	}))

	require.Error(t, r.Update("critical_metrics", ScheduleUpdate{
		Metrics: []any{"pd.notAQuota"},
	}))

	sched, err := r.Get("critical_metrics")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, sched.Interval)
	assert.True(t, sched.Enabled)
	assert.True(t, sched.Selector.IsAll(), "a rejected patch must not change any field")
}

func TestUpdateZeroIntervalDisables(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	zero := 0
	require.NoError(t, r.Update("critical_metrics", ScheduleUpdate{IntervalSeconds: &zero}))

	sched, err := r.Get("critical_metrics")
	require.NoError(t, err)
	assert.False(t, sched.Enabled)

	// Re-enabling without a sane interval stays refused.
	enabled := true
	require.NoError(t, r.Update("critical_metrics", ScheduleUpdate{Enabled: &enabled}))

	sched, err = r.Get("critical_metrics")
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
}

func TestMarkRunAndNextDue(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Register(Schedule{
		Name: "fast", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))
	require.NoError(t, r.Register(Schedule{
		Name: "slow", Interval: 5 * time.Minute, Enabled: true, Selector: quota.SelectAll(),
	}))

	// Nothing has run: due right away.
	next, ok := r.NextDue(now)
	require.True(t, ok)
	assert.Equal(t, now, next)

	require.NoError(t, r.MarkRun("fast", now))
	require.NoError(t, r.MarkRun("slow", now))

	next, ok = r.NextDue(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Second), next)

	assert.Error(t, r.MarkRun("ghost", now))
}

func TestNextDueWithNothingEnabled(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	_, ok := r.NextDue(time.Now())
	assert.False(t, ok)
}

func TestSnapshotReturnsSortedCopies(t *testing.T) {
	common.SetTestLoggerNop()
	r := NewRegistry()

	require.NoError(t, r.Register(Schedule{
		Name: "standard_metrics", Interval: 5 * time.Minute, Enabled: true, Selector: quota.SelectAll(),
	}))
	require.NoError(t, r.Register(Schedule{
		Name: "critical_metrics", Interval: 30 * time.Second, Enabled: true, Selector: quota.SelectAll(),
	}))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "critical_metrics", snap[0].Name)
	assert.Equal(t, "standard_metrics", snap[1].Name)

	// Mutating the snapshot must not leak into the registry.
	snap[0].LastRun = time.Now()

	sched, err := r.Get("critical_metrics")
	require.NoError(t, err)
	assert.True(t, sched.LastRun.IsZero())
}
