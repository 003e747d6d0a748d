package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/semreview/internal/feedback"
	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/pipeline"
	"github.com/semreview/internal/store"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	handlers *Handlers
}

// NewServer creates a new API server
func NewServer(port int, jwtSecret string, p *pipeline.Pipeline, st store.Store, learner *feedback.Learner, led ledger.Ledger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		port:     port,
		handlers: NewHandlers(p, st, learner, led),
	}

	server.setupRoutes(jwtSecret)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(jwtSecret string) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1", RequireAuth(jwtSecret))

	v1.POST("/review", s.handlers.SubmitReview)
	v1.GET("/review/:id", s.handlers.GetReview)
	v1.POST("/review/:id/feedback", s.handlers.SubmitFeedback)
	v1.GET("/usage", s.handlers.GetUsage)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// SetDurableQueue routes feedback through River instead of the in-process
// learner. Optional; without it feedback stays best-effort.
func (s *Server) SetDurableQueue(q FeedbackEnqueuer) { s.handlers.queue = q }

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
