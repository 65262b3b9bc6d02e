package store

import (
	"fmt"
	"iter"
	"time"

	"ecowatch/pkg/db"
	"ecowatch/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dayFormat = "2006-01-02"

// StorageError wraps a failed store operation. The scheduler treats it as a
// lost tick, never as a reason to stop.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store owns the time-series tables. All timestamps are normalized to UTC on
// the way in so sqlite's string comparison of datetimes stays chronological.
// Writes arrive from the scheduler goroutine only; reads may happen
// concurrently from the HTTP handlers (WAL mode).
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Append writes the batch in one transaction: either every reading lands or
// none do.
func (s *Store) Append(readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	for i := range readings {
		readings[i].Timestamp = readings[i].Timestamp.UTC()
	}
	err := s.db.Conn.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&readings).Error
	})
	if err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	return nil
}

// QueryRange streams readings for metricKeys in [from, to), timestamp
// ascending. Nil metricKeys matches every metric. The sequence is lazy and
// restartable: each range over it re-executes the query.
func (s *Store) QueryRange(metricKeys []string, from, to time.Time) iter.Seq2[models.Reading, error] {
	return func(yield func(models.Reading, error) bool) {
		query := s.db.Conn.
			Model(&models.Reading{}).
			Where("timestamp >= ? AND timestamp < ?", from.UTC(), to.UTC()).
			Order("timestamp ASC, id ASC")
		if len(metricKeys) > 0 {
			query = query.Where("metric IN ?", metricKeys)
		}

		rows, err := query.Rows()
		if err != nil {
			yield(models.Reading{}, &StorageError{Op: "query", Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			var reading models.Reading
			if err := s.db.Conn.ScanRows(rows, &reading); err != nil {
				yield(models.Reading{}, &StorageError{Op: "query scan", Err: err})
				return
			}
			if !yield(reading, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Reading{}, &StorageError{Op: "query rows", Err: err})
		}
	}
}

// Recent returns up to limit readings at or after from, newest first.
func (s *Store) Recent(metricKeys []string, from time.Time, limit int) ([]models.Reading, error) {
	query := s.db.Conn.
		Where("timestamp >= ?", from.UTC()).
		Order("timestamp DESC, id DESC").
		Limit(limit)
	if len(metricKeys) > 0 {
		query = query.Where("metric IN ?", metricKeys)
	}

	var readings []models.Reading
	if err := query.Find(&readings).Error; err != nil {
		return nil, &StorageError{Op: "recent", Err: err}
	}
	return readings, nil
}

func (s *Store) LatestReading(metricKey string) (models.Reading, error) {
	var reading models.Reading
	err := s.db.Conn.
		Where("metric = ?", metricKey).
		Order("timestamp DESC, id DESC").
		First(&reading).Error
	if err != nil {
		return models.Reading{}, &StorageError{Op: "latest", Err: err}
	}
	return reading, nil
}

// PruneOlderThan deletes readings strictly older than cutoff and returns the
// number of rows removed. Rows stamped exactly at the cutoff survive, and
// repeating the call with the same or an earlier cutoff removes nothing.
func (s *Store) PruneOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Conn.Where("timestamp < ?", cutoff.UTC()).Delete(&models.Reading{})
	if res.Error != nil {
		return 0, &StorageError{Op: "prune", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// RollupDaily recomputes per-device, per-metric min/max/avg summaries for
// the UTC day containing day, overwriting any prior rows for that day.
// Every written row is stamped with the recomputation time. Returns the
// number of summary rows written.
func (s *Store) RollupDaily(day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	type aggRow struct {
		DeviceSN string
		Metric   string
		MinValue float64
		MaxValue float64
		AvgValue float64
		Samples  int64
	}

	var rows []aggRow
	err := s.db.Conn.
		Model(&models.Reading{}).
		Select("device_sn, metric, MIN(value) AS min_value, MAX(value) AS max_value, AVG(value) AS avg_value, COUNT(*) AS samples").
		Where("timestamp >= ? AND timestamp < ?", dayStart, dayEnd).
		Group("device_sn").Group("metric").
		Scan(&rows).Error
	if err != nil {
		return 0, &StorageError{Op: "rollup", Err: err}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	generatedAt := time.Now().UTC()
	summaries := make([]models.DailySummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, models.DailySummary{
			DeviceSN:    row.DeviceSN,
			Metric:      row.Metric,
			Day:         dayStart.Format(dayFormat),
			MinValue:    row.MinValue,
			MaxValue:    row.MaxValue,
			AvgValue:    row.AvgValue,
			Samples:     row.Samples,
			GeneratedAt: generatedAt,
		})
	}

	err = s.db.Conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_sn"}, {Name: "metric"}, {Name: "day"}},
		UpdateAll: true,
	}).Create(&summaries).Error
	if err != nil {
		return 0, &StorageError{Op: "rollup upsert", Err: err}
	}
	return len(summaries), nil
}

func (s *Store) SummariesSince(from time.Time) ([]models.DailySummary, error) {
	var summaries []models.DailySummary
	err := s.db.Conn.
		Where("day >= ?", from.UTC().Format(dayFormat)).
		Order("day ASC, metric ASC").
		Find(&summaries).Error
	if err != nil {
		return nil, &StorageError{Op: "summaries", Err: err}
	}
	return summaries, nil
}

func (s *Store) InsertAlertEvents(events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.UTC()
	}
	if err := s.db.Conn.Create(&events).Error; err != nil {
		return &StorageError{Op: "insert alert events", Err: err}
	}
	return nil
}

func (s *Store) RecentAlertEvents(limit int) ([]models.AlertEvent, error) {
	var events []models.AlertEvent
	err := s.db.Conn.
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, &StorageError{Op: "recent alert events", Err: err}
	}
	return events, nil
}
