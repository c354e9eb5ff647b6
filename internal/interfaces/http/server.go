// Package http provides the HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application
// service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/application/service"
	"github.com/kaiwen/docverify/internal/infrastructure/datasink"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// ContentStore serves stored document bytes for presigned download links
type ContentStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	VerifyToken(path string, expires int64, token string) bool
}

// Services bundles everything the HTTP layer exposes
type Services struct {
	Ingest    service.IngestService
	Documents service.DocumentService
	Reviews   service.ReviewService
	Tasks     service.TaskService
	Templates service.TemplateService
	Webhooks  port.WebhookRepository
	Content   ContentStore
	Sink      *datasink.Sink
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/files/*path", handlers.ServeFile)

	api := s.router.Group("/api")
	{
		// Documents
		api.POST("/documents", handlers.UploadDocument)
		api.GET("/documents", handlers.ListDocuments)
		api.GET("/documents/:id", handlers.GetDocumentStatus)
		api.GET("/documents/:id/history", handlers.GetDocumentHistory)
		api.GET("/documents/:id/download", handlers.DownloadDocument)

		// Tasks
		api.GET("/tasks/statistics", handlers.TaskStatistics)
		api.GET("/tasks/:id", handlers.GetTaskStatus)
		api.DELETE("/tasks/:id", handlers.CancelTask)

		// Review queue
		api.GET("/reviews", handlers.ListPendingReviews)
		api.GET("/reviews/statistics", handlers.ReviewStatistics)
		api.GET("/reviews/workload/:reviewer_id", handlers.ReviewerWorkload)
		api.POST("/reviews/assign", handlers.AssignReviews)
		api.GET("/reviews/:id", handlers.GetReviewDetails)
		api.POST("/reviews/:id/decision", handlers.SubmitReviewDecision)

		// Templates
		api.POST("/templates", handlers.CreateTemplate)
		api.GET("/templates", handlers.ListTemplates)
		api.GET("/templates/:id", handlers.GetTemplate)
		api.POST("/templates/:id/fields", handlers.AddTemplateField)
		api.DELETE("/templates/:id", handlers.DeactivateTemplate)
		api.GET("/templates/:id/export", handlers.ExportTemplateData)

		// Webhook subscriptions
		api.POST("/webhooks", handlers.RegisterWebhook)
		api.GET("/webhooks", handlers.ListWebhooks)
		api.GET("/webhooks/statistics", handlers.WebhookDeliveryStatistics)
		api.DELETE("/webhooks/:id", handlers.DeactivateWebhook)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
