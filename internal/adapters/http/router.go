package http

import (
	"context"
	"net/http"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func setMode(mode string) {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
}

// SetupRouter serves the relay websocket. ctx bounds every connection it accepts.
func SetupRouter(ctx context.Context, cfg *config.Config, calls *app.CallStore, conns *app.Registry) *gin.Engine {
	setMode(cfg.Mode)

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewRelayWSController(
		calls,
		conns,
		app.SimplePolicy{},
		signal.NewRateLimiter(cfg.CallRateLimit, cfg.CallRateWindow),
		signal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			SendBuffer: cfg.SendBuffer,
		},
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"calls":       calls.Len(),
			"connections": conns.Len(),
		})
	})

	api := r.Group("/api")
	api.GET("/ws/relay", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws relay endpoint hit")
		ctrl.HandleRelay(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
