package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"ecowatch/pkg/common"
	"ecowatch/pkg/config"
	"ecowatch/pkg/models"
	"ecowatch/pkg/monitor"
	"ecowatch/pkg/quota"
)

const (
	maxRangeDays  = 365
	maxAlertLimit = 500
)

// Core quotas surfaced by the status endpoint.
var statusMetricKeys = []string{
	quota.KeySOC,
	quota.KeyOutputPower,
	quota.KeyInputPower,
	quota.KeyRemainTime,
}

type MetricValue struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type ScheduleView struct {
	Name            string         `json:"name"`
	IntervalSeconds int            `json:"intervalSeconds"`
	Enabled         bool           `json:"enabled"`
	Metrics         quota.Selector `json:"metrics"`
	LastRun         *time.Time     `json:"lastRun,omitempty"`
}

func scheduleView(s monitor.Schedule) ScheduleView {
	view := ScheduleView{
		Name:            s.Name,
		IntervalSeconds: int(s.Interval / time.Second),
		Enabled:         s.Enabled,
		Metrics:         s.Selector,
	}
	if !s.LastRun.IsZero() {
		lastRun := s.LastRun
		view.LastRun = &lastRun
	}
	return view
}

func scheduleViews(schedules []monitor.Schedule) []ScheduleView {
	return common.Mapper(schedules, scheduleView)
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rs *RestfulServer) GetStatus(c *gin.Context) {
	metrics := make(map[string]MetricValue, len(statusMetricKeys))
	for _, key := range statusMetricKeys {
		reading, err := rs.Store.LatestReading(key)
		if err != nil {
			continue // no sample yet
		}
		metrics[key] = MetricValue{Value: reading.Value, Timestamp: reading.Timestamp}
	}

	c.JSON(http.StatusOK, gin.H{
		"deviceSn":  rs.DeviceSN,
		"state":     rs.Scheduler.State(),
		"stats":     rs.Scheduler.Stats(),
		"metrics":   metrics,
		"schedules": scheduleViews(rs.Registry.Snapshot()),
	})
}

func (rs *RestfulServer) GetHistory(c *gin.Context) {
	days, err := intQuery(c, "days", 7)
	if err != nil || days < 1 || days > maxRangeDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}

	var keys []string
	if raw := strings.TrimSpace(c.Query("metrics")); raw != "" {
		for _, key := range strings.Split(raw, ",") {
			key = strings.TrimSpace(key)
			if !quota.IsKnownKey(key) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown metric key: " + key})
				return
			}
			keys = append(keys, key)
		}
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	readings := make([]models.Reading, 0, 256)
	for reading, err := range rs.Store.QueryRange(keys, from, to) {
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		readings = append(readings, reading)
	}

	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "readings": readings})
}

func (rs *RestfulServer) GetSummaries(c *gin.Context) {
	days, err := intQuery(c, "days", 30)
	if err != nil || days < 1 || days > maxRangeDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}

	summaries, err := rs.Store.SummariesSince(time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summaries)
}

func (rs *RestfulServer) GetAlerts(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil || limit < 1 || limit > maxAlertLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	events, err := rs.Store.RecentAlertEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, events)
}

func (rs *RestfulServer) GetSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, scheduleViews(rs.Registry.Snapshot()))
}

type ScheduleUpdateRequest struct {
	IntervalSeconds *int  `json:"intervalSeconds"`
	Enabled         *bool `json:"enabled"`
}

var scheduleUpdateSchema = z.Struct(z.Shape{
	"IntervalSeconds": z.Ptr(z.Int().GTE(0)),
	"Enabled":         z.Ptr(z.Bool()),
})

func (rs *RestfulServer) UpdateSchedule(c *gin.Context) {
	name := c.Param("name")

	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req ScheduleUpdateRequest
	if err := scheduleUpdateSchema.Parse(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	update := monitor.ScheduleUpdate{
		IntervalSeconds: req.IntervalSeconds,
		Enabled:         req.Enabled,
	}
	// The metrics field is either "all" or a list of quota keys; the
	// registry owns its validation.
	if metrics, ok := raw["metrics"]; ok {
		update.Metrics = metrics
	}

	if err := rs.Registry.Update(name, update); err != nil {
		if errors.Is(err, monitor.ErrUnknownSchedule) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched, err := rs.Registry.Get(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, scheduleView(sched))
}

type ThresholdsRequest struct {
	LowBatteryThreshold      float64 `json:"lowBatteryThreshold"`
	HighTemperatureThreshold float64 `json:"highTemperatureThreshold"`
	HighPowerThreshold       float64 `json:"highPowerThreshold"`
	Enabled                  *bool   `json:"enabled"`
}

var thresholdsRequestSchema = z.Struct(z.Shape{
	"LowBatteryThreshold":      z.Float64().Required(),
	"HighTemperatureThreshold": z.Float64().Required(),
	"HighPowerThreshold":       z.Float64().Required(),
	"Enabled":                  z.Ptr(z.Bool()),
})

func (rs *RestfulServer) UpdateThresholds(c *gin.Context) {
	var req ThresholdsRequest
	if err := thresholdsRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	cfg := config.AlertsConfig{
		LowBatteryThreshold:      req.LowBatteryThreshold,
		HighTemperatureThreshold: req.HighTemperatureThreshold,
		HighPowerThreshold:       req.HighPowerThreshold,
		Enabled:                  rs.Alerts.Thresholds().Enabled,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := rs.Alerts.SetThresholds(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rs.Alerts.Thresholds())
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
