// Package main is the entry point for cooksession: it brings up the recipe
// session registry, the MCP tool server the assistant calls into, the
// per-session audio/event WebSocket channel, and the small REST surface,
// then waits for SIGINT/SIGTERM to shut everything down in order.
//
// Grounded on cmd/kandev/main.go's phased bring-up (config -> logger ->
// event bus -> services -> gateway -> signal-driven graceful shutdown),
// narrowed from Kandev's agent/orchestrator/task stack to cooksession's
// catalog/session-registry/tool-server/transport stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cooksession/cooksession/internal/common/config"
	"github.com/cooksession/cooksession/internal/common/constants"
	"github.com/cooksession/cooksession/internal/common/httpmw"
	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/catalog"
	"github.com/cooksession/cooksession/internal/recipe/restapi"
	"github.com/cooksession/cooksession/internal/recipe/session"
	transportsession "github.com/cooksession/cooksession/internal/recipe/transport/session"
	"github.com/cooksession/cooksession/internal/recipe/tools"
	"github.com/cooksession/cooksession/internal/recipe/toolserver"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting cooksession")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory by default, NATS if configured) carries
	// recipe lifecycle events to anything outside the core that wants
	// them; the core never depends on a subscriber existing.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("connecting to NATS", zap.String("url", cfg.NATS.URL))
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		defer natsBus.Close()
	} else {
		log.Info("using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Recipe catalog and session registry
	recipeCatalog := catalog.New(cfg.Recipes)
	sessions := session.New(log)

	// 5. MCP tool server (the assistant's entry point into a session)
	toolDeps := tools.Deps{
		Sessions: sessions,
		Catalog:  recipeCatalog,
		Logger:   log,
		EventBus: eventBus,
	}
	toolSrv := toolserver.New(toolserver.Config{Port: cfg.Server.McpPort}, toolDeps)
	if err := toolSrv.Start(ctx); err != nil {
		log.Fatal("failed to start tool server", zap.Error(err))
	}
	log.Info("tool server started", zap.String("endpoint", toolSrv.Endpoint()))

	// 6. HTTP server: session audio/event channel + REST surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "cooksession"))
	router.Use(corsMiddleware(cfg.CORS.Origins))

	channelHandler := transportsession.NewHandler(sessions, recipeCatalog, eventBus, cfg.CORS.Origins, log)
	router.GET("/ws/session", channelHandler.HandleConnection)

	restHandlers := restapi.NewHandlers(sessions, log)
	restHandlers.Register(router)

	// Idle sessions (no output channel, no running timer, no activity within
	// the timeout) are reaped periodically so a dropped connection doesn't
	// pin an engine forever.
	go sessions.RunIdleSweeper(ctx, constants.SessionIdleTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down cooksession")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownGracePeriod)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := toolSrv.Stop(shutdownCtx); err != nil {
		log.Error("tool server shutdown error", zap.Error(err))
	}

	log.Info("cooksession stopped")
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
