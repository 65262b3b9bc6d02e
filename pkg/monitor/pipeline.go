package monitor

import (
	"context"
	"encoding/json"
	"time"

	"ecowatch/pkg/common"
	"ecowatch/pkg/models"
	"ecowatch/pkg/quota"
	"ecowatch/pkg/store"
	"go.uber.org/zap"
)

// ReadingMirror receives successfully appended batches, e.g. for forwarding
// to a secondary time-series backend. Mirror failures never fail the tick.
type ReadingMirror interface {
	MirrorReadings(ctx context.Context, readings []models.Reading) error
}

// Pipeline executes one schedule tick end to end: resolve the selector,
// fetch, normalize, append, evaluate alerts, mark the run.
type Pipeline struct {
	registry *Registry
	fetcher  quota.Fetcher
	store    *store.Store
	alerts   *AlertEngine
	mirror   ReadingMirror
	deviceSN string
}

func NewPipeline(registry *Registry, fetcher quota.Fetcher, st *store.Store, alerts *AlertEngine, deviceSN string) *Pipeline {
	return &Pipeline{
		registry: registry,
		fetcher:  fetcher,
		store:    st,
		alerts:   alerts,
		deviceSN: deviceSN,
	}
}

// WithMirror attaches an optional reading mirror.
func (p *Pipeline) WithMirror(m ReadingMirror) *Pipeline {
	p.mirror = m
	return p
}

// RunTick runs one tick of the named schedule. A returned error means the
// tick was lost (fetch or storage failure) and the schedule's LastRun was
// left untouched, so the same schedule is due again on the next wake.
func (p *Pipeline) RunTick(ctx context.Context, name string, now time.Time) error {
	logger := common.GetLoggerWith(
		common.LoggerNamePipeline,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryTick),
		zap.String("schedule", name),
	)

	sched, err := p.registry.Get(name)
	if err != nil {
		return err
	}

	resolved := sched.Selector.Resolve()

	// An all-selector asks the vendor for the full snapshot instead of
	// enumerating every key; resolved still drives normalization below.
	var requestKeys []string
	if !sched.Selector.IsAll() {
		requestKeys = resolved
	}

	raw, err := p.fetcher.FetchQuota(ctx, p.deviceSN, requestKeys)
	if err != nil {
		logger.Error("Quota fetch failed, tick lost", zap.Error(err))
		p.alerts.ReportFetchFailure(name, err, now)
		return err
	}

	batch := p.normalize(sched.Name, resolved, raw, now)
	if len(batch) < len(resolved) {
		logger.Debug("Some requested metrics were missing or malformed",
			zap.Int("requested", len(resolved)),
			zap.Int("usable", len(batch)))
	}

	if err := p.store.Append(batch); err != nil {
		logger.Error("Storing readings failed, tick lost", zap.Error(err))
		return err
	}

	if p.mirror != nil && len(batch) > 0 {
		if err := p.mirror.MirrorReadings(ctx, batch); err != nil {
			logger.Warn("Mirroring readings failed", zap.Error(err))
		}
	}

	p.alerts.Evaluate(batch, now)

	if err := p.registry.MarkRun(name, now); err != nil {
		return err
	}

	logger.Info("Tick completed", zap.Int("readings", len(batch)))
	return nil
}

// normalize maps the raw quota payload onto the schedule's resolved key
// order. Keys outside the known namespace, missing keys and non-numeric
// values are dropped: a missing metric is "not evaluable this tick", never
// an error.
func (p *Pipeline) normalize(schedule string, resolved []string, raw map[string]any, now time.Time) []models.Reading {
	batch := make([]models.Reading, 0, len(resolved))
	for _, key := range resolved {
		value, ok := raw[key]
		if !ok {
			continue
		}
		num, ok := numericValue(value)
		if !ok {
			continue
		}
		batch = append(batch, models.Reading{
			DeviceSN:  p.deviceSN,
			Schedule:  schedule,
			Metric:    key,
			Value:     num,
			Timestamp: now.UTC(),
		})
	}
	return batch
}

// numericValue coerces the vendor's JSON values: numbers pass through,
// booleans become 0/1, anything else is dropped.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
