// Package httpapi exposes the kernel World over HTTP: action submission,
// balance/health/metrics introspection, and mint-auction status. It plays
// the role the teacher's internal/api/http package plays for the chain
// node — a thin Gin layer over an already-constructed domain object,
// never holding business logic itself.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentkernel/kernel/internal/kernel"
	"github.com/agentkernel/kernel/internal/logging"
)

// Server wraps a Gin engine bound to one World, with explicit Start/Stop
// lifecycle methods so main can wire graceful shutdown around it
// (grounded on the teacher's internal/api/http.Server Start/Stop pair).
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *logging.Logger
	world      *kernel.World
}

// New builds the router but does not bind a socket; call Start to serve.
func New(world *kernel.World, log *logging.Logger, metricsPath string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{router: router, log: log, world: world}
	s.registerRoutes(metricsPath)
	return s
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("http request")
	}
}

func (s *Server) registerRoutes(metricsPath string) {
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.router.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/actions", s.handleExecuteAction)
		v1.GET("/artifacts/:id", s.handleGetArtifact)
		v1.GET("/ledger/:principal", s.handleGetBalances)
		v1.POST("/mint/submissions", s.handleSubmitForMint)
		v1.GET("/mint/history", s.handleMintHistory)
		v1.GET("/events", s.handleEvents)
	}
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReadiness(c *gin.Context) {
	// The World has no external dependency to probe (it's in-memory), so
	// readiness and liveness coincide once construction succeeds.
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Start binds the listener and serves in a background goroutine, the way
// the teacher's Server.Start does: the listener is created synchronously
// so a bad port fails the caller immediately, and Serve runs on that
// listener in a goroutine that only logs on unexpected exit.
func (s *Server) Start(addr string) error {
	if s.httpServer != nil {
		return fmt.Errorf("http server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port already in use: %s", addr)
		}
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server exited unexpectedly")
		}
	}()

	s.log.WithField("addr", addr).Info("http server started")
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
