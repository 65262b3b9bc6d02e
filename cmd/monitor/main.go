package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ecowatch/pkg/common"
	"ecowatch/pkg/config"
	"ecowatch/pkg/db"
	"ecowatch/pkg/export"
	ecoHttp "ecowatch/pkg/http"
	"ecowatch/pkg/monitor"
	"ecowatch/pkg/notify"
	"ecowatch/pkg/quota"
	"ecowatch/pkg/store"
)

func main() {
	var err error

	debugMode := flag.Bool("debug", false, "log at debug level")
	configDir := flag.String("config", ".", "directory containing config.json")
	flag.Parse()

	if *debugMode {
		common.SetDebugMode()
	}

	err = godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	logger := common.GetLogger()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	deviceSN := strings.TrimSpace(os.Getenv(common.EnvKeyDeviceSN))
	if deviceSN == "" {
		log.Fatal("ECOFLOW_DEVICE_SN not set, cannot poll without a device serial number")
	}

	var dbInstance *db.DB
	switch dbType := os.Getenv(common.EnvKeyDBType); dbType {
	case "", "file":
		dbInstance, err = db.New(db.UseSqliteDialector(cfg.Database.Path))
	case "memory":
		dbInstance, err = db.New(db.UseMemorySqliteDialector())
	default:
		log.Fatal("Unknown ECOWATCH_DB_TYPE: " + dbType)
	}
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	st := store.New(dbInstance)

	// The log sink is always on; a broker sink is added when configured.
	notifiers := notify.Multi{notify.ZapNotifier{}}
	if amqpURL := strings.TrimSpace(os.Getenv(common.EnvKeyAMQPURL)); amqpURL != "" {
		queue := strings.TrimSpace(os.Getenv(common.EnvKeyAMQPQueue))
		if queue == "" {
			queue = "ecowatch.alerts"
		}
		amqpNotifier, err := notify.NewAMQPNotifier(amqpURL, queue)
		if err != nil {
			log.Fatalf("Failed to connect to amqp broker: %v", err)
		}
		defer amqpNotifier.Close()
		notifiers = append(notifiers, amqpNotifier)
	}

	engine, err := monitor.NewAlertEngine(cfg.Alerts, st, notifiers, deviceSN)
	if err != nil {
		log.Fatalf("Invalid alert configuration: %v", err)
	}

	fetcher, err := quota.NewEcoFlowClient(quota.EcoFlowConfig{
		AccessKey: os.Getenv(common.EnvKeyAccessKey),
		SecretKey: os.Getenv(common.EnvKeySecretKey),
		BaseURL:   os.Getenv(common.EnvKeyAPIBase),
	})
	if err != nil {
		log.Fatalf("Failed to create EcoFlow client: %v", err)
	}

	// A failed probe is not fatal: the device may come online later and
	// lost ticks are retried anyway.
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	if err := fetcher.ProbeDevice(probeCtx, deviceSN); err != nil {
		logger.Warn("Device probe failed, polling will keep retrying", zap.Error(err))
	} else {
		logger.Info("Device is reachable", zap.String("deviceSn", deviceSN))
	}
	cancelProbe()

	registry := monitor.NewRegistry()
	for name, sched := range cfg.PollingSchedules {
		selector, err := sched.Selector()
		if err != nil {
			log.Fatalf("Invalid schedule %q: %v", name, err)
		}
		if err := registry.Register(monitor.Schedule{
			Name:     name,
			Interval: sched.Interval(),
			Enabled:  sched.Enabled,
			Selector: selector,
		}); err != nil {
			log.Fatalf("Failed to register schedule %q: %v", name, err)
		}
	}

	pipeline := monitor.NewPipeline(registry, fetcher, st, engine, deviceSN)

	if influxURL := strings.TrimSpace(os.Getenv(common.EnvKeyInfluxURL)); influxURL != "" {
		mirror, err := export.NewInfluxMirror(export.InfluxConfig{
			URL:    influxURL,
			Token:  os.Getenv(common.EnvKeyInfluxToken),
			Org:    os.Getenv(common.EnvKeyInfluxOrg),
			Bucket: os.Getenv(common.EnvKeyInfluxBucket),
		})
		if err != nil {
			log.Fatalf("Failed to set up influx mirror: %v", err)
		}
		defer mirror.Close()
		pipeline.WithMirror(mirror)
	}

	scheduler := monitor.NewScheduler(registry, pipeline, st, monitor.SchedulerConfig{
		MinTick:             time.Duration(cfg.Scheduler.MinTickSeconds) * time.Second,
		MaintenanceInterval: time.Duration(cfg.Scheduler.MaintenanceIntervalSeconds) * time.Second,
		Retention:           time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
	})
	scheduler.Start()

	hostPort := strings.TrimSpace(os.Getenv(common.EnvKeyHTTPHostPort))
	if hostPort == "" {
		hostPort = cfg.Server.HostPort
	}

	rs := &ecoHttp.RestfulServer{
		Server:    gin.Default(),
		Registry:  registry,
		Alerts:    engine,
		Store:     st,
		Scheduler: scheduler,
		DeviceSN:  deviceSN,
	}
	rs.Setup()

	server := &http.Server{
		Addr:    hostPort,
		Handler: rs.Handler(),
	}

	go func() {
		logger.Info("Starting HTTP server on " + hostPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down, waiting for the cycle in flight")
	scheduler.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
