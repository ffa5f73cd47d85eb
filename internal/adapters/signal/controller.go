package signal

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/carelink/signaling/internal/app"
	"github.com/carelink/signaling/internal/config"
	"github.com/carelink/signaling/internal/domain"
)

// Controller upgrades signaling clients to WebSocket and binds each
// connection to the coordinator under a fresh connection id.
type Controller struct {
	coord    *app.Coordinator
	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewController(coord *app.Coordinator, cfg *config.Config) *Controller {
	return &Controller{
		coord: coord,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSOrigin),
		},
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		for _, o := range strings.Split(allowed, ",") {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := domain.ConnectionID(uuid.NewString())
	conn := newWSConn(ws, ctl.cfg.SendBuffer)
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	ctl.coord.Attach(connID, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, connID, conn)
}
