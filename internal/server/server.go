// Package server exposes the task manager and the planner over HTTP: the
// /api routes drive the server-side browser, the /extension routes are
// single planning round-trips for the browser extension.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/task"
)

const maxBodyBytes = 50 << 20

// TaskManager runs the server-side loop
type TaskManager interface {
	StartTask(query string) (string, error)
	CloseTask() error
	Status(recent int) (task.Status, bool)
}

// Deps are the collaborators behind the routes
type Deps struct {
	Tasks    TaskManager
	Planner  task.Planner
	Observer task.Observer
	// Browser is the shared session; /api/processQuery captures its page
	// when the request carries no screenshot.
	Browser  executor.Browser
	Gatherer prometheus.Gatherer
}

// Server is the HTTP surface
type Server struct {
	cfg     *config.Config
	deps    Deps
	logger  *zap.Logger
	engine  *gin.Engine
	started time.Time
}

// New builds the router. It does not listen until Run or Serve.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.Named("server"),
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(s.requestLogger(), s.recovery(), limitBody(maxBodyBytes))
	s.engine.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))
	s.routes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	return c
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/config", s.handleConfig)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/startTask", s.handleStartTask)
		api.POST("/closeTask", s.handleCloseTask)
		api.GET("/status", s.handleStatus)
		api.POST("/processQuery", s.handleLiveQuery)
	}

	ext := s.engine.Group("/extension")
	{
		ext.GET("/health", s.handleHealth)
		ext.GET("/config", s.handleConfig)
		ext.POST("/processQuery", s.handleExtensionQuery)
		ext.POST("/handleError", s.handleExtensionError)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is done, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
