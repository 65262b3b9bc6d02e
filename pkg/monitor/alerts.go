package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecowatch/pkg/common"
	"ecowatch/pkg/config"
	"ecowatch/pkg/models"
	"ecowatch/pkg/quota"
	"ecowatch/pkg/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives fired alert events. Implementations own their timeouts;
// a slow or failing sink is logged and never blocks the tick for long.
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent) error
}

// AlertEngine evaluates threshold rules over ingested batches. Each rule
// kind runs a Normal/Firing state machine: one event on the transition into
// Firing, silence while it holds, and a silent return to Normal, so a metric
// hovering at the boundary cannot cause an alert storm.
type AlertEngine struct {
	mu       sync.Mutex
	cfg      config.AlertsConfig
	states   map[models.AlertKind]ruleState
	store    *store.Store
	notifier Notifier
	deviceSN string
}

// ruleState is one rule kind's suppression state. The most recent Normal to
// Firing edge is kept so suppressed repeats can be traced back to it.
type ruleState struct {
	firing      bool
	lastFiredAt time.Time
	lastValue   float64
}

func NewAlertEngine(cfg config.AlertsConfig, st *store.Store, notifier Notifier, deviceSN string) (*AlertEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AlertEngine{
		cfg:      cfg,
		states:   make(map[models.AlertKind]ruleState),
		store:    st,
		notifier: notifier,
		deviceSN: deviceSN,
	}, nil
}

// Evaluate runs the threshold rules against the batch and returns the events
// fired by this tick. A rule whose metric is absent from the batch is not
// evaluable this tick and keeps its previous state.
func (e *AlertEngine) Evaluate(batch []models.Reading, now time.Time) []models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enabled {
		return nil
	}

	latest := latestByMetric(batch)

	var events []models.AlertEvent

	if soc, ok := latest[quota.KeySOC]; ok {
		events = e.transition(events, models.AlertKindLowBattery,
			quota.KeySOC, soc, e.cfg.LowBatteryThreshold,
			soc < e.cfg.LowBatteryThreshold,
			fmt.Sprintf("Low battery: %.1f%%", soc), now)
	}

	if key, temp, ok := hottest(latest); ok {
		events = e.transition(events, models.AlertKindHighTemperature,
			key, temp, e.cfg.HighTemperatureThreshold,
			temp > e.cfg.HighTemperatureThreshold,
			fmt.Sprintf("High temperature on %s: %.1fC", key, temp), now)
	}

	if watts, ok := latest[quota.KeyOutputPower]; ok {
		events = e.transition(events, models.AlertKindHighPower,
			quota.KeyOutputPower, watts, e.cfg.HighPowerThreshold,
			watts > e.cfg.HighPowerThreshold,
			fmt.Sprintf("High power usage: %.1fW", watts), now)
	}

	e.dispatch(events)
	return events
}

// ReportFetchFailure emits an ApiError event for a failed tick. These are a
// stateless pass-through: one event per failure, no suppression, and they
// fire even when the threshold rules are disabled.
func (e *AlertEngine) ReportFetchFailure(schedule string, fetchErr error, now time.Time) models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	message := fmt.Sprintf("API error on schedule %s: %v", schedule, fetchErr)
	var fe *quota.FetchError
	if errors.As(fetchErr, &fe) {
		message = fmt.Sprintf("API error (%s) on schedule %s: %s", fe.Kind, schedule, fe.Message)
	}

	event := models.AlertEvent{
		EventID:   uuid.NewString(),
		DeviceSN:  e.deviceSN,
		Kind:      models.AlertKindApiError,
		Message:   message,
		Timestamp: now.UTC(),
	}
	e.dispatch([]models.AlertEvent{event})
	return event
}

// SetThresholds swaps the rule configuration after validating it. Firing
// state is kept: a rule already firing stays suppressed until its condition
// clears under the new thresholds.
func (e *AlertEngine) SetThresholds(cfg config.AlertsConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg

	common.GetLoggerWith(
		common.LoggerNameAlerts,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryAlert),
	).Info("Alert thresholds updated",
		zap.Float64("lowBattery", cfg.LowBatteryThreshold),
		zap.Float64("highTemperature", cfg.HighTemperatureThreshold),
		zap.Float64("highPower", cfg.HighPowerThreshold),
		zap.Bool("enabled", cfg.Enabled))
	return nil
}

func (e *AlertEngine) Thresholds() config.AlertsConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// transition applies one rule outcome to the per-kind state machine,
// appending an event only on the Normal to Firing edge. Repeats while
// firing are logged against the recorded edge, never re-emitted.
func (e *AlertEngine) transition(events []models.AlertEvent, kind models.AlertKind, metric string, value, threshold float64, holds bool, message string, now time.Time) []models.AlertEvent {
	state := e.states[kind]
	wasFiring := state.firing
	state.firing = holds

	if holds && !wasFiring {
		state.lastFiredAt = now.UTC()
		state.lastValue = value
		events = append(events, models.AlertEvent{
			EventID:   uuid.NewString(),
			DeviceSN:  e.deviceSN,
			Kind:      kind,
			Metric:    metric,
			Value:     value,
			Threshold: threshold,
			Message:   message,
			Timestamp: now.UTC(),
		})
	} else if holds {
		common.GetLoggerWith(
			common.LoggerNameAlerts,
			zap.String(common.LoggerFieldCategory, common.LoggerCategoryAlert),
		).Debug("Alert condition still holds, repeat suppressed",
			zap.String("kind", string(kind)),
			zap.Float64("value", value),
			zap.Float64("firedValue", state.lastValue),
			zap.Time("firingSince", state.lastFiredAt))
	}

	e.states[kind] = state
	return events
}

// dispatch logs, persists and forwards fired events. Persistence and
// notification failures are logged and swallowed; alerting must never take
// the loop down.
func (e *AlertEngine) dispatch(events []models.AlertEvent) {
	if len(events) == 0 {
		return
	}

	logger := common.GetLoggerWith(
		common.LoggerNameAlerts,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryAlert),
	)

	for _, event := range events {
		logger.Warn("Alert fired",
			zap.String("kind", string(event.Kind)),
			zap.String("metric", event.Metric),
			zap.Float64("value", event.Value),
			zap.Float64("threshold", event.Threshold),
			zap.String("message", event.Message))
	}

	if e.store != nil {
		if err := e.store.InsertAlertEvents(events); err != nil {
			logger.Error("Persisting alert events failed", zap.Error(err))
		}
	}
	if e.notifier != nil {
		for _, event := range events {
			if err := e.notifier.Notify(context.Background(), event); err != nil {
				logger.Error("Notifying alert event failed",
					zap.String("kind", string(event.Kind)),
					zap.Error(err))
			}
		}
	}
}

// latestByMetric keeps the last value per metric in batch order.
func latestByMetric(batch []models.Reading) map[string]float64 {
	latest := make(map[string]float64, len(batch))
	for _, r := range batch {
		latest[r.Metric] = r.Value
	}
	return latest
}

// hottest picks the highest temperature quota present, scanning in canonical
// namespace order so equal values resolve to a stable key.
func hottest(latest map[string]float64) (string, float64, bool) {
	var (
		bestKey string
		best    float64
		found   bool
	)
	for _, key := range quota.TemperatureKeys() {
		value, ok := latest[key]
		if !ok {
			continue
		}
		if !found || value > best {
			bestKey, best, found = key, value, true
		}
	}
	return bestKey, best, found
}
