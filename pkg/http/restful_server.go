package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"ecowatch/pkg/monitor"
	"ecowatch/pkg/store"
)

// SchedulerControl is what the status endpoint needs from the polling loop.
type SchedulerControl interface {
	State() string
	Stats() monitor.Stats
}

// RestfulServer exposes the monitor over HTTP: read endpoints serve the
// store, write endpoints reconfigure the registry and the alert engine.
// Nothing here writes time-series state; only the polling loop does that.
type RestfulServer struct {
	Server    *gin.Engine
	Registry  *monitor.Registry
	Alerts    *monitor.AlertEngine
	Store     *store.Store
	Scheduler SchedulerControl
	DeviceSN  string
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)

	api := rs.Server.Group("/api")
	{
		api.GET("/status", rs.GetStatus)
		api.GET("/history", rs.GetHistory)
		api.GET("/summaries", rs.GetSummaries)
		api.GET("/alerts", rs.GetAlerts)
		api.GET("/schedules", rs.GetSchedules)
		api.POST("/schedules/:name", rs.UpdateSchedule)
		api.POST("/alerts/thresholds", rs.UpdateThresholds)
	}
}

// Handler wraps the router with the CORS policy so browser dashboards on
// other origins can read the API.
func (rs *RestfulServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(rs.Server)
}
