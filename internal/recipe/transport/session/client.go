// Package session is the WebSocket transport for one cooking session's
// audio/event channel: a single bidirectional connection per session,
// rather than the gateway's one-connection-subscribes-to-many-topics model.
//
// Grounded on internal/gateway/websocket/client.go's connection lifecycle
// (read/write pumps, ping/pong keepalive, outbound write batching); the
// subscription handling that file built around task/session/user topics is
// dropped entirely, since a connection here already IS the session.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/catalog"
	"github.com/cooksession/cooksession/internal/recipe/eventhandler"
	"github.com/cooksession/cooksession/internal/recipe/model"
	"github.com/cooksession/cooksession/internal/recipe/session"
	ws "github.com/cooksession/cooksession/pkg/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// startFrame is the required first inbound frame on a session channel.
type startFrame struct {
	Event      string `json:"event"`
	SessionID  string `json:"sessionId"`
	SampleRate int    `json:"sampleRate"`

	CustomParameters struct {
		Mode            string          `json:"mode"`
		RecipeID        string          `json:"recipeId"`
		RecipePayload   json.RawMessage `json:"recipePayload"`
		ResumeStepIndex *int            `json:"resumeStepIndex"`
	} `json:"customParameters"`
}

// genericFrame reads just enough of an inbound frame to dispatch on Event.
type genericFrame struct {
	Event string `json:"event"`
}

// Client is one session's WebSocket connection. It implements
// session.OutputChannel, so the registry can address it directly once the
// session id is known from the first inbound frame.
type Client struct {
	conn      *websocket.Conn
	sessions  *session.Registry
	catalog   catalog.Catalog
	eventBus  bus.EventBus
	send      chan []byte
	mu        sync.Mutex
	closed    bool
	logger    *logger.Logger
	sessionID string
}

// NewClient wraps an upgraded connection. The session id is not known until
// the first frame arrives, so ReadPump assigns it. eventBus may be nil.
func NewClient(conn *websocket.Conn, sessions *session.Registry, cat catalog.Catalog, eventBus bus.EventBus, log *logger.Logger) *Client {
	return &Client{
		conn:     conn,
		sessions: sessions,
		catalog:  cat,
		eventBus: eventBus,
		send:     make(chan []byte, 256),
		logger:   log.WithFields(zap.String("component", "session_channel")),
	}
}

// Send implements session.OutputChannel.
func (c *Client) Send(msg *ws.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.sendBytes(data)
	return nil
}

func (c *Client) sendBytes(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("session channel send buffer full", zap.String("session_id", c.sessionID))
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads the start frame, registers the connection as the
// session's output channel, then loops on audio/stop/interrupt frames
// until the connection closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		if c.sessionID != "" {
			c.sessions.RegisterOutputChannel(c.sessionID, nil)
		}
		// Close the send channel rather than the connection directly: this
		// lets WritePump flush anything already queued (e.g. an error frame
		// from an invalid start frame) before it writes the close frame and
		// closes the connection itself.
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !c.awaitStart(ctx) {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Error("session channel read error", zap.Error(err), zap.String("session_id", c.sessionID))
			}
			return
		}

		var frame genericFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Error("failed to parse session frame", zap.Error(err), zap.String("session_id", c.sessionID))
			continue
		}

		switch frame.Event {
		case "audio":
			// ASR/audio processing is an out-of-scope external collaborator
			// (spec.md §6.5); the core has nothing to do with raw PCM frames
			// beyond accepting them on the wire.
		case "stop":
			c.logger.Debug("session channel stop", zap.String("session_id", c.sessionID))
			return
		case "interrupt":
			c.logger.Debug("session channel interrupt", zap.String("session_id", c.sessionID))
		default:
			c.logger.Debug("unrecognized session frame", zap.String("event", frame.Event), zap.String("session_id", c.sessionID))
		}
	}
}

// awaitStart blocks for the first frame, which must be a "start" event
// naming the session id. It registers the output channel and, if the
// start frame names a recipe, begins the recipe session immediately
// rather than waiting for the assistant to call start_recipe.
func (c *Client) awaitStart(ctx context.Context) bool {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.logger.Error("failed to read session start frame", zap.Error(err))
		return false
	}

	var start startFrame
	if err := json.Unmarshal(raw, &start); err != nil || start.Event != "start" || start.SessionID == "" {
		c.logger.Error("invalid session start frame", zap.Error(err))
		c.sendErrorFrame("invalid or missing start frame")
		return false
	}

	c.sessionID = start.SessionID
	c.logger = c.logger.WithFields(zap.String("session_id", c.sessionID))
	c.sessions.RegisterOutputChannel(c.sessionID, c)

	recipeID := start.CustomParameters.RecipeID
	hasPayload := len(start.CustomParameters.RecipePayload) > 0
	if recipeID != "" || hasPayload {
		if err := c.startRecipe(ctx, recipeID, start.CustomParameters.RecipePayload); err != nil {
			c.logger.Error("failed to start recipe from session start frame", zap.Error(err))
			c.sendErrorFrame(err.Error())
			return true
		}
	}

	c.sendInfoFrame()
	return true
}

func (c *Client) startRecipe(ctx context.Context, recipeID string, payload json.RawMessage) error {
	var recipe *model.Recipe
	var raw []byte
	var err error

	if len(payload) > 0 {
		recipe, err = model.Decode(payload)
		raw = payload
	} else {
		recipe, raw, err = c.catalog.Load(recipeID)
	}
	if err != nil {
		return err
	}

	c.sessions.SetSessionRecipe(c.sessionID, recipe.Meta.ID, raw)

	asst := c.sessions.GetAssistant(c.sessionID)
	handler := eventhandler.New(c.sessionID, c, asst, c.logger).WithEventBus(c.eventBus)

	eng := c.sessions.Create(c.sessionID, recipe, handler.Handle)
	return eng.Start()
}

func (c *Client) sendInfoFrame() {
	msg, err := ws.NewNotification(ws.ActionSessionInfo, map[string]interface{}{
		"session_id": c.sessionID,
	})
	if err != nil {
		return
	}
	_ = c.Send(msg)
}

func (c *Client) sendErrorFrame(message string) {
	msg, err := ws.NewError("", ws.ActionSessionStart, ws.ErrorCodeBadRequest, message, nil)
	if err != nil {
		return
	}
	_ = c.Send(msg)
}

// WritePump pumps queued outbound frames to the connection, with
// ping/pong keepalive and batching of back-to-back queued messages.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("failed to close session channel", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to write close message", zap.Error(err))
				}
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				c.logger.Debug("failed to write session frame", zap.Error(err))
				_ = w.Close()
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write([]byte{'\n'}); err != nil {
					_ = w.Close()
					return
				}
				if _, err := w.Write(<-c.send); err != nil {
					_ = w.Close()
					return
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
