package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/catalog"
	"github.com/cooksession/cooksession/internal/recipe/session"
)

// Handler upgrades HTTP connections into per-session audio/event channels.
//
// Grounded on internal/gateway/websocket/handler.go's upgrade-then-pump
// shape; the client id generation there becomes unnecessary here, since
// the session id comes from the connection's own start frame rather than
// being assigned by the transport.
type Handler struct {
	sessions *session.Registry
	catalog  catalog.Catalog
	eventBus bus.EventBus
	origins  map[string]bool
	logger   *logger.Logger
}

// NewHandler builds a Handler. allowedOrigins mirrors cors.origins config;
// a single "*" entry allows every origin. eventBus may be nil.
func NewHandler(sessions *session.Registry, cat catalog.Catalog, eventBus bus.EventBus, allowedOrigins []string, log *logger.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		sessions: sessions,
		catalog:  cat,
		eventBus: eventBus,
		origins:  origins,
		logger:   log.WithFields(zap.String("component", "session_channel_handler")),
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.origins["*"] || len(h.origins) == 0 {
		return true
	}
	return h.origins[r.Header.Get("Origin")]
}

// HandleConnection upgrades the request and runs the session channel until
// the client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	upgrader := gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade session channel", zap.Error(err))
		return
	}

	client := NewClient(conn, h.sessions, h.catalog, h.eventBus, h.logger)
	go client.WritePump()
	client.ReadPump(c.Request.Context())
}
