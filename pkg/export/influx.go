package export

import (
	"context"
	"errors"
	"fmt"

	"ecowatch/pkg/common"
	"ecowatch/pkg/models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const measurement = "battery_telemetry"

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxMirror forwards appended readings to an InfluxDB bucket so the
// telemetry can be graphed next to data from other collectors. The mirror is
// write-only; the local store stays the source of truth for queries and
// rollups.
type InfluxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxMirror connects to the configured InfluxDB instance and verifies
// it is healthy before the mirror is handed to the pipeline.
func NewInfluxMirror(cfg InfluxConfig) (*InfluxMirror, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("influx mirror requires a url and a bucket")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	common.GetLoggerWith(common.LoggerNameExport).Info("Connected to InfluxDB",
		zap.String("url", cfg.URL),
		zap.String("org", cfg.Org),
		zap.String("bucket", cfg.Bucket))

	return &InfluxMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// MirrorReadings writes one point per reading. A failure here is reported to
// the caller but the tick that produced the batch has already committed.
func (m *InfluxMirror) MirrorReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := m.writeAPI.WritePoint(ctx, pointsFor(readings)...); err != nil {
		return fmt.Errorf("failed to write points to influxdb: %w", err)
	}
	return nil
}

func (m *InfluxMirror) Close() {
	m.client.Close()
}

func pointsFor(readings []models.Reading) []*write.Point {
	return common.Mapper(readings, func(r models.Reading) *write.Point {
		return influxdb2.NewPoint(
			measurement,
			map[string]string{
				"device_sn": r.DeviceSN,
				"schedule":  r.Schedule,
				"metric":    r.Metric,
			},
			map[string]interface{}{"value": r.Value},
			r.Timestamp,
		)
	})
}
