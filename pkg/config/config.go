package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"ecowatch/pkg/common"
	"ecowatch/pkg/quota"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const configFileName = "config.json"

// ValidationError reports a config field that failed validation. Load and
// runtime updates both reject with it, leaving prior state untouched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

type Config struct {
	PollingSchedules map[string]ScheduleConfig `mapstructure:"polling_schedules"`
	Alerts           AlertsConfig              `mapstructure:"alerts"`
	Database         DatabaseConfig            `mapstructure:"database"`
	Server           ServerConfig              `mapstructure:"server"`
	Scheduler        SchedulerConfig           `mapstructure:"scheduler"`
}

type ScheduleConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	Enabled         bool `mapstructure:"enabled"`
	// Metrics is either the literal "all" or a list of quota keys; parsed
	// through Selector.
	Metrics any `mapstructure:"metrics"`
}

type AlertsConfig struct {
	LowBatteryThreshold      float64 `mapstructure:"low_battery_threshold" json:"lowBatteryThreshold"`
	HighTemperatureThreshold float64 `mapstructure:"high_temperature_threshold" json:"highTemperatureThreshold"`
	HighPowerThreshold       float64 `mapstructure:"high_power_threshold" json:"highPowerThreshold"`
	Enabled                  bool    `mapstructure:"enabled" json:"enabled"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type ServerConfig struct {
	HostPort string `mapstructure:"host_port"`
}

type SchedulerConfig struct {
	MinTickSeconds             int `mapstructure:"min_tick_seconds"`
	MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
}

// Load reads config.json from dir, overlaying file values on the defaults.
// When the file is missing, the defaults are written out so the operator has
// something concrete to edit, matching how the monitor always behaved.
func Load(dir string) (*Config, error) {
	logger := common.GetLoggerWith(common.LoggerNameConfig)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		path := filepath.Join(dir, configFileName)
		if err := v.SafeWriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", err)
		}
		logger.Info("Created default configuration file", zap.String("path", path))
	} else {
		logger.Info("Configuration loaded", zap.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("polling_schedules.critical_metrics.interval_seconds", 30)
	v.SetDefault("polling_schedules.critical_metrics.enabled", true)
	v.SetDefault("polling_schedules.critical_metrics.metrics",
		[]string{"pd.soc", "pd.wattsOutSum", "pd.typec1Temp", "bms_bmsStatus.temp"})

	v.SetDefault("polling_schedules.standard_metrics.interval_seconds", 300)
	v.SetDefault("polling_schedules.standard_metrics.enabled", true)
	v.SetDefault("polling_schedules.standard_metrics.metrics", quota.SelectorAllLiteral)

	v.SetDefault("alerts.low_battery_threshold", 20)
	v.SetDefault("alerts.high_temperature_threshold", 60)
	v.SetDefault("alerts.high_power_threshold", 2000)
	v.SetDefault("alerts.enabled", true)

	v.SetDefault("database.path", "ecowatch.db")
	v.SetDefault("database.retention_days", 90)

	v.SetDefault("server.host_port", "127.0.0.1:8080")

	v.SetDefault("scheduler.min_tick_seconds", 1)
	v.SetDefault("scheduler.maintenance_interval_seconds", 3600)
}

func (c *Config) Validate() error {
	if len(c.PollingSchedules) == 0 {
		return &ValidationError{Field: "polling_schedules", Reason: "at least one schedule is required"}
	}
	for name, sched := range c.PollingSchedules {
		if sched.IntervalSeconds < 0 {
			return &ValidationError{
				Field:  fmt.Sprintf("polling_schedules.%s.interval_seconds", name),
				Reason: "must not be negative",
			}
		}
		if _, err := sched.Selector(); err != nil {
			return &ValidationError{
				Field:  fmt.Sprintf("polling_schedules.%s.metrics", name),
				Reason: err.Error(),
			}
		}
	}

	if err := c.Alerts.Validate(); err != nil {
		return err
	}

	if c.Database.RetentionDays <= 0 {
		return &ValidationError{Field: "database.retention_days", Reason: "must be positive"}
	}
	if c.Scheduler.MinTickSeconds <= 0 {
		return &ValidationError{Field: "scheduler.min_tick_seconds", Reason: "must be positive"}
	}
	if c.Scheduler.MaintenanceIntervalSeconds <= 0 {
		return &ValidationError{Field: "scheduler.maintenance_interval_seconds", Reason: "must be positive"}
	}
	return nil
}

func (a AlertsConfig) Validate() error {
	if a.LowBatteryThreshold < 0 || a.LowBatteryThreshold > 100 {
		return &ValidationError{Field: "alerts.low_battery_threshold", Reason: "must be between 0 and 100"}
	}
	if a.HighTemperatureThreshold <= 0 {
		return &ValidationError{Field: "alerts.high_temperature_threshold", Reason: "must be positive"}
	}
	if a.HighPowerThreshold <= 0 {
		return &ValidationError{Field: "alerts.high_power_threshold", Reason: "must be positive"}
	}
	return nil
}

// Selector parses the schedule's metrics field. An absent field selects the
// whole namespace.
func (s ScheduleConfig) Selector() (quota.Selector, error) {
	if s.Metrics == nil {
		return quota.SelectAll(), nil
	}
	return quota.ParseSelector(s.Metrics)
}

func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}
