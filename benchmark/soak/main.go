package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"ecowatch/pkg/common"
	"ecowatch/pkg/config"
	"ecowatch/pkg/db"
	"ecowatch/pkg/monitor"
	"ecowatch/pkg/notify"
	"ecowatch/pkg/quota"
	"ecowatch/pkg/store"
)

var maxTicks int = 5000
var failOneIn int32 = 50

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

func main() {
	common.SetTestLoggerNop()

	deviceSN := uuid.NewString()

	database, err := db.New(db.UseMemorySqliteDialector())
	if err != nil {
		log.Fatal("Failed to open in-memory database:", err)
	}
	st := store.New(database)

	registry := monitor.NewRegistry()
	criticalSelector, err := quota.ParseSelector([]string{
		quota.KeySOC, quota.KeyOutputPower, "pd.typec1Temp", "bms_bmsStatus.temp",
	})
	if err != nil {
		log.Fatal("Failed to parse selector:", err)
	}
	schedules := []monitor.Schedule{
		{Name: "critical_metrics", Interval: time.Second, Enabled: true, Selector: criticalSelector},
		{Name: "standard_metrics", Interval: 5 * time.Second, Enabled: true, Selector: quota.SelectAll()},
	}
	for _, s := range schedules {
		if err := registry.Register(s); err != nil {
			log.Fatal("Failed to register schedule:", err)
		}
	}

	engine, err := monitor.NewAlertEngine(config.AlertsConfig{
		LowBatteryThreshold:      20,
		HighTemperatureThreshold: 60,
		HighPowerThreshold:       2000,
		Enabled:                  true,
	}, st, notify.Multi{}, deviceSN)
	if err != nil {
		log.Fatal("Failed to build alert engine:", err)
	}

	pipeline := monitor.NewPipeline(registry, &syntheticFetcher{}, st, engine, deviceSN)

	fmt.Printf("seeded %v schedules for device %v\n", len(schedules), deviceSN)

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Duration(maxTicks) * time.Second)
	end := base.Add(time.Duration(maxTicks) * time.Second)

	var startTime time.Time
	var usedTime time.Duration

	failedTicks := 0
	startTime = time.Now()
	for i := range maxTicks {
		now := base.Add(time.Duration(i) * time.Second)
		if err := pipeline.RunTick(ctx, schedules[i%len(schedules)].Name, now); err != nil {
			failedTicks++
		}
		if i%100 == 0 {
			fmt.Printf("\rran tick %v/%v", i, maxTicks)
		}
	}
	usedTime = time.Since(startTime)

	storedReadings := countReadings(st, base, end)
	fmt.Printf(
		"\rran %v ticks (%v failed): used time=%v seconds, throughput=%v tick/second, %v reading/second\n",
		maxTicks, failedTicks, usedTime.Seconds(),
		float64(maxTicks)/usedTime.Seconds(), float64(storedReadings)/usedTime.Seconds(),
	)

	events, err := st.RecentAlertEvents(maxTicks)
	if err != nil {
		log.Fatal("Failed to read alert events:", err)
	}
	fmt.Printf("stored %v readings, raised %v alert events\n", storedReadings, len(events))

	startTime = time.Now()
	summaryRows := 0
	for day := base.Truncate(24 * time.Hour); day.Before(end); day = day.Add(24 * time.Hour) {
		n, err := st.RollupDaily(day)
		if err != nil {
			log.Fatal("Failed to roll up day:", err)
		}
		summaryRows += n
	}
	prunedRows, err := st.PruneOlderThan(base.Add(time.Duration(maxTicks/2) * time.Second))
	if err != nil {
		log.Fatal("Failed to prune readings:", err)
	}
	usedTime = time.Since(startTime)

	fmt.Printf(
		"maintenance wrote %v summary rows and pruned %v readings: used time=%v seconds\n",
		summaryRows, prunedRows, usedTime.Seconds(),
	)
}

// syntheticFetcher stands in for the vendor cloud: jittered values for every
// requested quota key, with an injected network outage roughly once per
// failOneIn calls.
type syntheticFetcher struct{}

func (f *syntheticFetcher) FetchQuota(_ context.Context, _ string, metricKeys []string) (map[string]any, error) {
	if failOneIn > 0 && rnd.Int31n(failOneIn) == 0 {
		return nil, &quota.FetchError{Kind: quota.ErrorKindNetwork, Message: "synthetic outage"}
	}
	keys := metricKeys
	if len(keys) == 0 {
		keys = quota.Namespace()
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		out[key] = syntheticValue(key)
	}
	return out, nil
}

func syntheticValue(key string) float64 {
	switch {
	case key == quota.KeySOC:
		return rndFloat64(10.0, 100.0, 1)
	case quota.IsTemperatureKey(key):
		return rndFloat64(25.0, 70.0, 1)
	case key == quota.KeyRemainTime:
		return rndFloat64(0.0, 5999.0, 0)
	default:
		return rndFloat64(0.0, 2400.0, 1)
	}
}

func rndFloat64(min, max float64, decimal int) float64 {
	val := min + rnd.Float64()*(max-min)
	multiplier := float64(math.Pow10(decimal))
	return float64(math.Round(float64(val)*float64(multiplier))) / multiplier
}

func countReadings(st *store.Store, from, to time.Time) int {
	count := 0
	for _, err := range st.QueryRange(nil, from, to) {
		if err != nil {
			log.Fatal("Failed to count readings:", err)
		}
		count++
	}
	return count
}
