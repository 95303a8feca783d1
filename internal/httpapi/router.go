// Package httpapi is the node's debug control plane: a small Gin-based
// HTTP surface for reading status, inspecting and patching the persisted
// configuration, and triggering restart/factory-reset/bind-recheck
// operations that would otherwise only be reachable via the manufacturer
// Zigbee cluster (spec §6). Grounded on the teacher's pkg/api/router.go:
// same gin.New()+SetupMiddleware()+route-group shape, narrowed from the
// teacher's device CRUD surface to this node's single-device status/config
// surface.
package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
)

// Node is the set of subsystems the HTTP surface reads from and acts on.
type Node struct {
	Config   *config.Manager
	Alarms   *alarm.Pool
	Binds    *bind.Pool
	Presence *presence.Controller
	// Restart, if set, is invoked by POST /api/v1/node/restart instead of
	// the handler returning 501.
	Restart func()
}

// Router holds the Gin engine and the node it serves.
type Router struct {
	engine *gin.Engine
	node   *Node
	valid  *validator
	log    zerolog.Logger
}

// NewRouter builds the route table. Returns an error only if the embedded
// config-patch JSON Schema fails to compile, which would indicate a
// programming error in this package.
func NewRouter(node *Node, log zerolog.Logger) (*Router, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	setupMiddleware(engine, log)

	r := &Router{engine: engine, node: node, valid: v, log: log.With().Str("component", "httpapi").Logger()}
	r.setupRoutes()
	return r, nil
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.health)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/status", r.getStatus)
		v1.GET("/config", r.getConfig)
		v1.PATCH("/config", r.patchConfig)
		v1.POST("/config/factory-reset", r.factoryReset)
		v1.POST("/node/restart", r.restart)
		v1.POST("/binds/recheck", r.recheckBinds)
	}
}

// Run starts the HTTP server on addr, blocking until it exits.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}

func setupMiddleware(engine *gin.Engine, log zerolog.Logger) {
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		status := c.Writer.Status()
		ev := log.Info()
		if status >= 400 {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).Str("path", path).
			Int("status", status).Dur("latency", time.Since(start)).Msg("request")
	}
}
