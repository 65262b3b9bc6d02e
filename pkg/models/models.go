package models

import "time"

type AlertKind string

const (
	AlertKindLowBattery      AlertKind = "low_battery"
	AlertKindHighTemperature AlertKind = "high_temperature"
	AlertKindHighPower       AlertKind = "high_power"
	AlertKindApiError        AlertKind = "api_error"
)

// Reading is one sampled metric value. A polling tick appends one row per
// metric it managed to parse from the vendor payload.
type Reading struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceSN  string    `gorm:"index" json:"deviceSn"`
	Schedule  string    `gorm:"index" json:"schedule"`
	Metric    string    `gorm:"index:idx_reading_metric_ts" json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `gorm:"index:idx_reading_metric_ts" json:"timestamp"`
}

// DailySummary is one metric rolled up over one UTC day. Day is the
// day's date in YYYY-MM-DD form; (DeviceSN, Metric, Day) is unique so
// re-running a rollup overwrites instead of duplicating. GeneratedAt
// records when the row was last recomputed.
type DailySummary struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DeviceSN    string    `gorm:"uniqueIndex:idx_summary_key" json:"deviceSn"`
	Metric      string    `gorm:"uniqueIndex:idx_summary_key" json:"metric"`
	Day         string    `gorm:"uniqueIndex:idx_summary_key;type:varchar(10)" json:"day"`
	MinValue    float64   `json:"minValue"`
	MaxValue    float64   `json:"maxValue"`
	AvgValue    float64   `json:"avgValue"`
	Samples     int64     `json:"samples"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type AlertEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"type:varchar(36)" json:"eventId"`
	DeviceSN  string    `gorm:"index" json:"deviceSn"`
	Kind      AlertKind `gorm:"type:varchar(20);check:kind IN ('low_battery','high_temperature','high_power','api_error')" json:"kind"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}
