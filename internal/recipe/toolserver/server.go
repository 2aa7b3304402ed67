// Package toolserver exposes the recipe tool surface (internal/recipe/tools)
// over MCP's SSE and Streamable HTTP transports.
//
// Grounded on internal/mcpserver/server.go's dual-transport lifecycle
// (shared *server.MCPServer, one HTTP mux routing /sse+/message and /mcp
// onto it, a net.Listen probe before Serve, graceful Shutdown on both
// transports); narrowed to one concern (recipe tools) and extended with a
// per-request context function that stamps the ambient session id onto
// every tool call's context, since cooksession's tools never accept
// session_id as an argument (see internal/recipe/tools/context.go).
package toolserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/recipe/tools"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// SessionHeader is the HTTP header the transport layer sets to identify
// which cooking session a tool call belongs to.
const SessionHeader = "X-Cooksession-Session-Id"

// Config holds the tool server's listen configuration.
type Config struct {
	Port int
}

// Server wraps the SSE and Streamable HTTP MCP transports with lifecycle
// management, both serving the same recipe tool set.
type Server struct {
	cfg        Config
	deps       tools.Deps
	sseServer  *server.SSEServer
	httpStream *server.StreamableHTTPServer
	httpServer *http.Server
	mu         sync.Mutex
	running    bool
	logger     *logger.Logger
}

// New creates a tool server bound to deps; deps.Logger must not be nil.
func New(cfg Config, deps tools.Deps) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.WithFields(zap.String("component", "tool-server")),
	}
}

// Start registers the recipe tools and begins serving both transports. It
// returns once the listener is up, or ctx is cancelled first.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("tool server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer("cooksession-mcp", "1.0.0", server.WithToolCapabilities(true))
	tools.Register(mcpServer, s.deps)

	s.sseServer = server.NewSSEServer(mcpServer,
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id := r.Header.Get(SessionHeader); id != "" {
				return tools.WithSessionID(ctx, id)
			}
			return ctx
		}),
	)
	s.httpStream = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id := r.Header.Get(SessionHeader); id != "" {
				return tools.WithSessionID(ctx, id)
			}
			return ctx
		}),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.httpStream)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("tool server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tool server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.httpStream != nil {
		if err := s.httpStream.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

// Endpoint returns the base URL tool clients connect to.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("http://localhost:%d", s.cfg.Port)
}
