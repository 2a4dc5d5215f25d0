package http

import (
	"net/http"

	"github.com/dkeye/daudio/internal/adapters/wsfabric"
	"github.com/dkeye/daudio/internal/app/orch"
	"github.com/dkeye/daudio/internal/config"
	"github.com/dkeye/daudio/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

type SessionLister interface {
	Sessions() []core.SessionInfo
}

type PeerLister interface {
	Peers() []orch.PeerStatus
}

// Deps are the parts of the node the router exposes. Fabric is nil when the
// node does not accept network sessions.
type Deps struct {
	Fabric   gin.HandlerFunc
	Sessions SessionLister
	Peers    PeerLister
	Gatherer prometheus.Gatherer
}

// RequestIDMiddleware reuses the caller's request id or assigns one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.HTTP.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.HTTP.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "device_id": cfg.DeviceID})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.Fabric != nil {
		r.GET(wsfabric.Path, deps.Fabric)
	}
	api := r.Group("/api")
	api.GET("/sessions", func(c *gin.Context) {
		resp := gin.H{"device_id": cfg.DeviceID}
		if deps.Sessions != nil {
			resp["sessions"] = deps.Sessions.Sessions()
		}
		if deps.Peers != nil {
			resp["peers"] = deps.Peers.Peers()
		}
		c.JSON(http.StatusOK, resp)
	})

	log.Info().Str("module", "adapters.http").Bool("fabric", deps.Fabric != nil).Msg("router setup")
	return r
}
