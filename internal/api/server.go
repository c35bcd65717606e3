package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/tracing"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	metricsCfg config.MetricsConfig
	engine     *engine.Engine
	metrics    *metrics.Metrics
	logger     *logging.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the API server over e.
func NewServer(cfg *config.Config, e *engine.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)

	rpm := cfg.API.RateLimit.RequestsPerMinute
	if rpm <= 0 {
		rpm = 6000
	}
	burst := cfg.API.RateLimit.Burst
	if burst <= 0 {
		burst = 200
	}

	s := &Server{
		router:     gin.New(),
		config:     cfg.Server,
		apiConfig:  cfg.API,
		metricsCfg: cfg.Metrics,
		engine:     e,
		metrics:    e.Metrics(),
		logger:     e.Logger(),
	}
	s.router.HandleMethodNotAllowed = true

	s.router.Use(gin.Recovery())
	s.router.Use(correlationMiddleware())
	if cfg.Tracing.Enabled {
		s.router.Use(tracingMiddleware())
	}
	if cfg.API.CORS.Enabled {
		s.router.Use(corsMiddleware(cfg.API.CORS))
	}
	s.router.Use(rateLimitMiddleware(newIPRateLimiter(time.Minute/time.Duration(rpm), burst)))
	s.router.Use(bodyLimitMiddleware(maxBodyBytes))
	s.router.Use(metrics.Middleware(s.metrics, s.logger))
	s.router.Use(loggingMiddleware(s.logger))

	s.setupRoutes()
	return s
}

// correlationMiddleware takes the correlation ID from the request header,
// or generates one, and echoes it on the response.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(logging.CorrelationIDHeader)
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), correlationID))
		c.Header(logging.CorrelationIDHeader, correlationID)
		c.Next()
	}
}

// tracingMiddleware starts a server span per request, continuing any
// trace propagated by the caller.
func tracingMiddleware() gin.HandlerFunc {
	tracer := tracing.Tracer()
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = metrics.UnmatchedRoute
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("correlation_id", logging.GetCorrelationID(ctx)),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.InfoWithContext(c.Request.Context(), "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics.Handler()))
	}
	s.router.GET("/health", s.handleHealth)

	if !s.apiConfig.Enabled {
		return
	}

	base := s.apiConfig.BasePath
	if base == "" {
		base = "/api/v1"
	}
	v1 := s.router.Group(base)
	v1.Use(auditMiddleware(s.engine.AuditSink()))
	v1.Use(APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger))

	quotas := v1.Group("/quotas")
	{
		quotas.POST("", s.handleCreateQuota)
		quotas.GET("", s.handleListQuotas)
		quotas.POST("/check", s.handleCheck)
		quotas.GET("/:id", s.handleGetQuota)
		quotas.PATCH("/:id", s.handleModifyQuota)
		quotas.DELETE("/:id", s.handleDeleteQuota)
	}

	budgets := v1.Group("/budgets")
	{
		budgets.POST("", s.handleCreateBudget)
		budgets.GET("", s.handleListBudgets)
		budgets.GET("/:id", s.handleGetBudget)
		budgets.PATCH("/:id", s.handleModifyBudget)
		budgets.DELETE("/:id", s.handleDeleteBudget)
	}

	flavors := v1.Group("/flavors")
	{
		flavors.POST("", s.handleCreateFlavor)
		flavors.GET("", s.handleListFlavors)
		flavors.GET("/:id", s.handleGetFlavor)
		flavors.DELETE("/:id", s.handleDeleteFlavor)
	}

	reservations := v1.Group("/reservations")
	{
		reservations.GET("/:id", s.handleGetReservation)
		reservations.POST("/:id/release", s.handleReleaseReservation)
		reservations.POST("/:id/confirm", s.handleConfirmReservation)
	}

	v1.GET("/over", s.handleListOver)
	v1.POST("/sync", s.handleTriggerSync)
	v1.GET("/sync/state", s.handleSyncState)
}

// Run starts the HTTP or HTTPS server based on TLS configuration. It
// returns http.ErrServerClosed after Shutdown.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	s.mu.Lock()
	if s.config.TLS.Enabled {
		srv, err := NewHTTPSServerWithConfig(addr, s.config.TLS.CertFile, s.config.TLS.KeyFile, s.config.TLS.MinVersion, s.router)
		if err != nil {
			s.mu.Unlock()
			return &errors.ErrServerStart{Addr: addr, Err: err}
		}
		s.httpServer = srv
	} else {
		s.httpServer = NewHTTPServer(addr, s.router)
	}
	srv := s.httpServer
	s.mu.Unlock()

	if s.config.TLS.Enabled {
		s.logger.Info("starting HTTPS server", "addr", addr, "min_version", s.config.TLS.MinVersion)
		return srv.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting connections, drains in-flight requests and then
// closes the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var errs []error
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err.Error())
			errs = append(errs, &errors.ErrServerShutdown{Err: err})
		}
	}
	if err := s.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}
