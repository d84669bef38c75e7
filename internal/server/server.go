// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tmorval/riskgate/internal/anomaly"
	"github.com/tmorval/riskgate/internal/approval"
	"github.com/tmorval/riskgate/internal/audit"
	"github.com/tmorval/riskgate/internal/config"
	"github.com/tmorval/riskgate/internal/ledger"
	"github.com/tmorval/riskgate/internal/logging"
	"github.com/tmorval/riskgate/internal/metrics"
	"github.com/tmorval/riskgate/internal/ratelimit"
	"github.com/tmorval/riskgate/internal/realtime"
	"github.com/tmorval/riskgate/internal/risk"
	"github.com/tmorval/riskgate/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	history      ledger.History
	scorer       *anomaly.Scorer
	trainer      *anomaly.Trainer
	riskService  *risk.Service
	engine       *approval.Engine
	sweeper      *approval.Sweeper
	realtimeHub  *realtime.Hub
	limiter      *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHistory sets a custom transaction history source (for testing)
func WithHistory(h ledger.History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set history/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	sink := audit.NewSlogSink(s.logger)

	var (
		modelStore    anomaly.ModelStore
		approvalStore approval.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if s.history == nil {
			historyStore := ledger.NewPostgresHistory(db)
			if err := historyStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate ledger store", "error", err)
			}
			s.history = historyStore
		}

		pgModelStore := anomaly.NewPostgresModelStore(db)
		if err := pgModelStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate model store", "error", err)
		}
		modelStore = pgModelStore

		pgApprovalStore := approval.NewPostgresStore(db)
		if err := pgApprovalStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate approval store", "error", err)
		}
		approvalStore = pgApprovalStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		if s.history == nil {
			s.history = ledger.NewMemoryHistory()
		}
		modelStore = anomaly.NewMemoryModelStore()
		approvalStore = approval.NewMemoryStore()
	}

	// Anomaly scoring: load the persisted model if one exists, otherwise
	// start untrained (scores 0 until the first training run).
	s.scorer = anomaly.NewScorer(modelStore,
		anomaly.WithLogger(s.logger),
		anomaly.WithMinSamples(cfg.TrainingMinSamples),
	)
	if err := s.scorer.LoadPersisted(ctx); err != nil {
		s.logger.Warn("failed to load persisted model", "error", err)
	}

	s.trainer = anomaly.NewTrainer(s.scorer, s.history,
		anomaly.WithWindowDays(cfg.TrainingWindowDays),
		anomaly.WithMaxSamples(cfg.TrainingMaxSamples),
		anomaly.WithTrainerLogger(s.logger),
	)

	s.riskService = risk.NewService(s.history, s.scorer,
		risk.WithAuditSink(sink),
		risk.WithLogger(s.logger),
	)

	// Create realtime hub for WebSocket streaming of approval events
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	s.engine = approval.NewEngine(approvalStore, sink, sink,
		approval.WithTTL(cfg.ApprovalTTL),
		approval.WithLogger(s.logger),
		approval.WithBroadcaster(s.realtimeHub),
	)
	s.sweeper = approval.NewSweeper(s.engine, cfg.SweepInterval, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Rate limiting by client IP
	s.limiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.limiter.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// V1 API group
	v1 := s.router.Group("/v1")

	// Evaluation and model lifecycle
	v1.POST("/transactions/evaluate", s.evaluateHandler)
	v1.POST("/models/train", s.trainHandler)
	v1.GET("/models/current", s.modelInfoHandler)

	// Approval workflow
	v1.GET("/approvals", s.listApprovalsHandler)
	v1.GET("/approvals/:id", s.getApprovalHandler)
	v1.POST("/approvals/:id/approve", s.approveHandler)
	v1.POST("/approvals/:id/reject", s.rejectHandler)

	// WebSocket feed of approval lifecycle events
	v1.GET("/feed", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}
	if !s.healthy.Load() {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op without an OTLP endpoint)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		shutdownTraces = func(context.Context) error { return nil }
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start the expiry sweep
	s.sweeper.Start()

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	shutdownErr := s.Shutdown()
	if err := shutdownTraces(context.Background()); err != nil {
		s.logger.Error("traces shutdown error", "error", err)
	}
	return shutdownErr
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the expiry sweep
	s.sweeper.Stop()
	s.logger.Info("approval sweeper stopped")

	// Stop the rate limiter's cleanup loop
	if s.limiter != nil {
		s.limiter.Stop()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
