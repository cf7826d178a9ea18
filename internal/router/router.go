// Package router mounts the transports on a gin engine.
package router

import (
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	server "github.com/hanpama/gqlinput/internal/server"
)

// Config selects the handlers to mount. Nil handlers are not routed.
type Config struct {
	GraphQL http.Handler
	WS      http.Handler
	Metrics http.Handler

	// CORSOrigins enables CORS for the listed origins. "*" allows any.
	CORSOrigins []string

	Debug  bool
	Logger *log.Logger
}

// New returns an engine serving /graphql, /graphql/ws, /metrics and /healthz.
func New(cfg Config) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))

	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.CORSOrigins
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Accept-Language", server.RequestIDHeader}
		corsConfig.ExposeHeaders = []string{server.RequestIDHeader}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.GraphQL != nil {
		h := gin.WrapH(cfg.GraphQL)
		engine.GET("/graphql", h)
		engine.POST("/graphql", h)
		engine.OPTIONS("/graphql", h)
	}
	if cfg.WS != nil {
		engine.GET("/graphql/ws", gin.WrapH(cfg.WS))
	}
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return engine
}

func accessLog(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.Writer.Header().Get(server.RequestIDHeader),
		)
	}
}
