package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ecowatch/pkg/common"
	"ecowatch/pkg/db"
	"ecowatch/pkg/models"
	_ "ecowatch/pkg/testing"
)

var baseTime = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	common.SetTestLoggerNop()

	database, err := db.New(db.UseMemorySqliteDialector())
	require.NoError(t, err)
	return New(database)
}

func reading(metric string, ts time.Time, value float64) models.Reading {
	return models.Reading{
		DeviceSN:  "R331TEST",
		Schedule:  "critical_metrics",
		Metric:    metric,
		Value:     value,
		Timestamp: ts,
	}
}

func TestAppendAndQueryRangeOrdering(t *testing.T) {
	s := newTestStore(t)

	// Appended out of order; the query must come back ascending.
	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", baseTime.Add(2*time.Minute), 80),
		reading("pd.soc", baseTime, 82),
		reading("pd.soc", baseTime.Add(time.Minute), 81),
	}))

	var got []models.Reading
	for r, err := range s.QueryRange([]string{"pd.soc"}, baseTime, baseTime.Add(3*time.Minute)) {
		require.NoError(t, err)
		got = append(got, r)
	}

	require.Len(t, got, 3)
	assert.Equal(t, float64(82), got[0].Value)
	assert.Equal(t, float64(81), got[1].Value)
	assert.Equal(t, float64(80), got[2].Value)
}

func TestQueryRangeBoundsAreHalfOpen(t *testing.T) {
	s := newTestStore(t)

	from := baseTime
	to := baseTime.Add(10 * time.Minute)
	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", from.Add(-time.Second), 1),
		reading("pd.soc", from, 2),
		reading("pd.soc", to.Add(-time.Second), 3),
		reading("pd.soc", to, 4),
	}))

	var values []float64
	for r, err := range s.QueryRange(nil, from, to) {
		require.NoError(t, err)
		values = append(values, r.Value)
	}
	assert.Equal(t, []float64{2, 3}, values)
}

func TestQueryRangeFiltersMetricKeys(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", baseTime, 90),
		reading("pd.wattsOutSum", baseTime, 120),
		reading("pd.typec1Temp", baseTime, 31),
	}))

	var metrics []string
	for r, err := range s.QueryRange([]string{"pd.soc", "pd.typec1Temp"}, baseTime, baseTime.Add(time.Hour)) {
		require.NoError(t, err)
		metrics = append(metrics, r.Metric)
	}
	assert.Equal(t, []string{"pd.soc", "pd.typec1Temp"}, metrics)
}

func TestQueryRangeIsRestartable(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", baseTime, 1),
		reading("pd.soc", baseTime.Add(time.Minute), 2),
		reading("pd.soc", baseTime.Add(2*time.Minute), 3),
	}))

	seq := s.QueryRange(nil, baseTime, baseTime.Add(time.Hour))

	// Abandon the first pass after one row.
	for r, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, float64(1), r.Value)
		break
	}

	// A second pass starts over and sees everything.
	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestAppendAllOrNothing(t *testing.T) {
	s := newTestStore(t)

	bad := []models.Reading{
		reading("pd.soc", baseTime, 50),
		reading("pd.wattsOutSum", baseTime, 120),
	}
	bad[0].ID = 7
	bad[1].ID = 7 // primary key collision fails the batch

	err := s.Append(bad)
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)

	var count int64
	require.NoError(t, s.db.Conn.Model(&models.Reading{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "failed batch must not leave partial rows")
}

func TestPruneOlderThanIsStrictAndIdempotent(t *testing.T) {
	s := newTestStore(t)

	cutoff := baseTime
	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", cutoff.Add(-time.Hour), 1),
		reading("pd.soc", cutoff, 2),
		reading("pd.soc", cutoff.Add(time.Hour), 3),
	}))

	deleted, err := s.PruneOlderThan(cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var before []models.Reading
	for r, err := range s.QueryRange(nil, time.Time{}, cutoff) {
		require.NoError(t, err)
		before = append(before, r)
	}
	assert.Empty(t, before, "nothing older than the cutoff may remain")

	var count int64
	require.NoError(t, s.db.Conn.Model(&models.Reading{}).Count(&count).Error)
	assert.Equal(t, int64(2), count, "rows at and after the cutoff survive")

	deletedAgain, err := s.PruneOlderThan(cutoff)
	require.NoError(t, err)
	assert.Zero(t, deletedAgain)

	deletedEarlier, err := s.PruneOlderThan(cutoff.Add(-2 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deletedEarlier)
}

func TestRollupDailyIdempotent(t *testing.T) {
	s := newTestStore(t)

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", day.Add(1*time.Hour), 90),
		reading("pd.soc", day.Add(2*time.Hour), 70),
		reading("pd.soc", day.Add(3*time.Hour), 80),
		reading("pd.wattsOutSum", day.Add(1*time.Hour), 100),
		reading("pd.wattsOutSum", day.Add(26*time.Hour), 999), // next day
	}))

	written, err := s.RollupDaily(day.Add(13 * time.Hour)) // any instant inside the day
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	first, err := s.SummariesSince(day)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Far enough apart that the second pass gets a later wall clock.
	time.Sleep(20 * time.Millisecond)

	written, err = s.RollupDaily(day)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	second, err := s.SummariesSince(day)
	require.NoError(t, err)
	require.Len(t, second, 2)

	for i := range first {
		assert.False(t, first[i].GeneratedAt.IsZero(), "rollup must stamp the generation time")
		assert.True(t, second[i].GeneratedAt.After(first[i].GeneratedAt), "regenerating must refresh the stamp")
		first[i].GeneratedAt = time.Time{}
		second[i].GeneratedAt = time.Time{}
	}
	assert.Equal(t, first, second, "recomputing over identical readings must not change summaries")

	var socSummary models.DailySummary
	for _, row := range second {
		if row.Metric == "pd.soc" {
			socSummary = row
		}
	}
	assert.Equal(t, "2025-06-15", socSummary.Day)
	assert.Equal(t, float64(70), socSummary.MinValue)
	assert.Equal(t, float64(90), socSummary.MaxValue)
	assert.Equal(t, float64(80), socSummary.AvgValue)
	assert.Equal(t, int64(3), socSummary.Samples)
}

func TestRollupDailyOverwritesOnNewData(t *testing.T) {
	s := newTestStore(t)

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append([]models.Reading{reading("pd.soc", day.Add(time.Hour), 60)}))

	_, err := s.RollupDaily(day)
	require.NoError(t, err)

	require.NoError(t, s.Append([]models.Reading{reading("pd.soc", day.Add(2*time.Hour), 40)}))

	_, err = s.RollupDaily(day)
	require.NoError(t, err)

	summaries, err := s.SummariesSince(day)
	require.NoError(t, err)
	require.Len(t, summaries, 1, "same day and metric must stay a single row")

	assert.Equal(t, float64(40), summaries[0].MinValue)
	assert.Equal(t, float64(60), summaries[0].MaxValue)
	assert.Equal(t, float64(50), summaries[0].AvgValue)
	assert.Equal(t, int64(2), summaries[0].Samples)
}

func TestRollupDailyEmptyDay(t *testing.T) {
	s := newTestStore(t)

	written, err := s.RollupDaily(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestLatestReading(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append([]models.Reading{
		reading("pd.soc", baseTime, 90),
		reading("pd.soc", baseTime.Add(time.Minute), 85),
	}))

	latest, err := s.LatestReading("pd.soc")
	require.NoError(t, err)
	assert.Equal(t, float64(85), latest.Value)

	_, err = s.LatestReading("pd.wattsOutSum")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRecentHonorsLimitAndOrder(t *testing.T) {
	s := newTestStore(t)

	var batch []models.Reading
	for i := range 5 {
		batch = append(batch, reading("pd.soc", baseTime.Add(time.Duration(i)*time.Minute), float64(i)))
	}
	require.NoError(t, s.Append(batch))

	recent, err := s.Recent([]string{"pd.soc"}, baseTime, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, float64(4), recent[0].Value)
	assert.Equal(t, float64(3), recent[1].Value)
}

func TestInsertAndListAlertEvents(t *testing.T) {
	s := newTestStore(t)

	events := []models.AlertEvent{
		{
			EventID:   uuid.NewString(),
			DeviceSN:  "R331TEST",
			Kind:      models.AlertKindLowBattery,
			Metric:    "pd.soc",
			Value:     15,
			Threshold: 20,
			Message:   "Low battery: 15.0%",
			Timestamp: baseTime,
		},
		{
			EventID:   uuid.NewString(),
			DeviceSN:  "R331TEST",
			Kind:      models.AlertKindHighPower,
			Metric:    "pd.wattsOutSum",
			Value:     2400,
			Threshold: 2000,
			Message:   "High power usage: 2400.0W",
			Timestamp: baseTime.Add(time.Minute),
		},
	}
	require.NoError(t, s.InsertAlertEvents(events))
	require.NoError(t, s.InsertAlertEvents(nil))

	got, err := s.RecentAlertEvents(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.AlertKindHighPower, got[0].Kind)
	assert.Equal(t, models.AlertKindLowBattery, got[1].Kind)
}
