package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocrtool/ocrtool/api/handler"
	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/pkg/logger"
)

// Deps 路由依赖；History 与 Monitor 可为空
type Deps struct {
	Fleet       *service.FleetService
	Store       *service.FleetStore
	Monitor     *service.Monitor
	History     handler.HistoryReader
	LogPath     string
	Mode        string
	MetricsPath string
}

// SetupRouter 设置路由
func SetupRouter(deps Deps) *gin.Engine {
	if deps.Mode == "" {
		deps.Mode = gin.ReleaseMode
	}
	gin.SetMode(deps.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	fleetHandler := handler.NewFleetHandler(deps.Fleet, deps.Store, deps.Monitor)
	topologyHandler := handler.NewTopologyHandler(deps.Store)
	logsHandler := handler.NewLogsHandler(deps.LogPath)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "OCR Tool",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", fleetHandler.Health)

		v1.GET("/topology", topologyHandler.Summary)
		v1.POST("/topology", topologyHandler.Upload)

		gates := v1.Group("/gates")
		{
			gates.GET("", fleetHandler.ListGates)
			gates.GET("/:gate/devices", fleetHandler.ListDevices)
			gates.GET("/:gate/status", fleetHandler.Status)
			gates.POST("/:gate/restart", fleetHandler.Restart)
			gates.POST("/:gate/reboot", fleetHandler.Reboot)
		}

		v1.GET("/jobs", fleetHandler.ListJobs)
		v1.GET("/jobs/:id", fleetHandler.GetJob)

		v1.POST("/sweep", fleetHandler.Sweep)
		v1.GET("/sweep/latest", fleetHandler.LastSweep)

		if deps.History != nil {
			historyHandler := handler.NewHistoryHandler(deps.History)
			v1.GET("/history", historyHandler.Operations)
			v1.GET("/alerts", historyHandler.Alerts)
		}

		v1.GET("/logs", logsHandler.TailLogs)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logger.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP Error")
			return
		}
		entry.Debug("HTTP Request")
	}
}
