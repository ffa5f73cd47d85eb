package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/carelink/signaling/internal/adapters/signal"
	"github.com/carelink/signaling/internal/app"
	"github.com/carelink/signaling/internal/config"
)

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if cfg.CORSOrigin == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		origins := strings.Split(cfg.CORSOrigin, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) {
		snap := coord.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"connections": snap.Connections,
			"rooms":       snap.Rooms,
			"users":       snap.Users,
		})
	})

	ctl := signal.NewController(coord, cfg)
	r.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("cors", cfg.CORSOrigin).Msg("router setup")

	return r
}
