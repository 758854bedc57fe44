// Package status serves a read-only HTTP view of the relay.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/chat"
)

// Registry is what the API reports on.
type Registry interface {
	ClientCount() int
	Members() []chat.Member
}

// Config holds status API configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default status API configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 5 * time.Second,
	}
}

// UsersResponse is the body of GET /api/v1/users.
type UsersResponse struct {
	Count int           `json:"count"`
	Users []chat.Member `json:"users"`
}

// Server is the status HTTP server.
type Server struct {
	cfg      Config
	registry Registry
	router   *gin.Engine
}

// NewServer creates a status server for registry.
func NewServer(registry Registry, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())

	s := &Server{cfg: cfg, registry: registry, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/users", s.handleUsers)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers requests on l until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("Status API listening on %s", l.Addr())
		errChan <- httpServer.Serve(l)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start status api: %w", err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUsers(c *gin.Context) {
	members := s.registry.Members()
	c.JSON(http.StatusOK, UsersResponse{Count: len(members), Users: members})
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
