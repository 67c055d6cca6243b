// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/chain"
	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/delegation"
	"github.com/mbd888/sentinel/internal/health"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/pipeline"
	"github.com/mbd888/sentinel/internal/ratelimit"
	"github.com/mbd888/sentinel/internal/realtime"
	"github.com/mbd888/sentinel/internal/revoker"
	"github.com/mbd888/sentinel/internal/security"
	"github.com/mbd888/sentinel/internal/threat"
	"github.com/mbd888/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	chainClient  chain.EthClient
	reader       *chain.Reader
	delegations  delegation.Store
	records      revoker.RecordStore
	detector     *threat.Detector
	executor     *revoker.Executor
	pipeline     *pipeline.Pipeline
	hub          *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
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

// WithChainClient sets a custom RPC client (for testing)
func WithChainClient(client chain.EthClient) Option {
	return func(s *Server) {
		s.chainClient = client
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set chain client/logger)
	for _, opt := range opts {
		opt(s)
	}

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
		s.delegations = delegation.NewPostgresStore(db)
		s.records = revoker.NewPostgresRecordStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.delegations = delegation.NewMemoryStore()
		s.records = revoker.NewMemoryRecordStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create RPC client if not injected
	if s.chainClient == nil {
		client, err := chain.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		s.chainClient = client
	}

	reader, err := chain.NewReader(s.chainClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain reader: %w", err)
	}
	s.reader = reader

	// Threat detector: denylist + bytecode heuristics + optional AI analysis
	var analyzer threat.Analyzer
	if cfg.AIServiceURL != "" {
		analyzer = threat.NewAIClient(threat.AIConfig{
			BaseURL: cfg.AIServiceURL,
			APIKey:  cfg.AIAPIKey,
			Timeout: time.Duration(cfg.AITimeoutSec) * time.Second,
		})
		s.logger.Info("AI analysis enabled", "url", cfg.AIServiceURL)
	} else {
		s.logger.Warn("AI analysis disabled, deep analysis will degrade")
	}
	s.detector = threat.NewDetector(threat.NewDenylist(cfg.ExtraDenylist), reader, analyzer, s.logger)

	// Revocation executor with the configured submission strategy
	strategy, err := s.buildStrategy()
	if err != nil {
		return nil, err
	}
	s.executor, err = revoker.NewExecutor(s.delegations, strategy, s.records, reader, revoker.Config{
		DelegationManager: cfg.DelegationManager,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	s.logger.Info("revocation executor ready",
		"strategy", strategy.Name(),
		"delegation_manager", cfg.DelegationManager,
	)

	// Create realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)

	// Pipeline: bounded queue between intake and classification/execution
	s.pipeline = pipeline.New(s.detector, s.executor, s.hub, pipeline.Config{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
	}, s.logger)

	// Health checks
	s.checks = health.NewRegistry(2 * time.Second)
	s.checks.Register("rpc", func(ctx context.Context) error {
		_, err := s.chainClient.HeaderByNumber(ctx, nil)
		return err
	})
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) error {
			return s.db.PingContext(ctx)
		})
	}

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

// buildStrategy wires the transaction-submission strategy from config.
// The executor is indifferent to which one it gets.
func (s *Server) buildStrategy() (revoker.Strategy, error) {
	timeout := time.Duration(s.cfg.ConfirmationTimeout) * time.Second

	switch s.cfg.SubmissionStrategy {
	case "selffunded":
		return revoker.NewSelfFunded(s.chainClient, revoker.SelfFundedConfig{
			PrivateKey:          s.cfg.OperatorKey,
			ChainID:             s.cfg.ChainID,
			ConfirmationTimeout: timeout,
		})
	case "upgraded":
		return revoker.NewUpgraded(s.chainClient, revoker.UpgradedConfig{
			PrivateKey:          s.cfg.OperatorKey,
			ChainID:             s.cfg.ChainID,
			Implementation:      s.cfg.DelegatorImplementation,
			ConfirmationTimeout: timeout,
		})
	case "sponsored":
		return revoker.NewSponsored(revoker.SponsoredConfig{
			RelayerURL:          s.cfg.RelayerURL,
			APIKey:              s.cfg.RelayerAPIKey,
			ConfirmationTimeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unknown submission strategy %q", s.cfg.SubmissionStrategy)
	}
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

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
			requestID = idgen.Hex(8)
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Service info
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// Event intake from the indexer. Acks immediately; processing is async.
	v1.POST("/webhook/approval", s.webhookHandler)

	// Delegation management (signed revocation permissions)
	verifier := delegation.NewVerifier(s.cfg.ChainID, s.cfg.DelegationManager)
	if s.db == nil {
		// Demo mode skips EIP-712 signature verification
		verifier = nil
	}
	delegationHandler := delegation.NewHandler(s.delegations, verifier)
	delegationHandler.RegisterRoutes(v1)

	// Revocation audit trail
	v1.GET("/owners/:address/revocations", s.listRevocationsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// webhookHandler accepts an approval event from the indexer. The response
// never waits on classification or execution: a full queue is the only
// reason a well-formed event is refused.
func (s *Server) webhookHandler(c *gin.Context) {
	var payload approval.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := payload.Validate(); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "One or more fields are invalid",
			"details": errs,
		})
		return
	}

	ev, err := payload.ToEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}

	if err := s.pipeline.Enqueue(ev); err != nil {
		logging.L(c.Request.Context()).Error("event rejected, queue full",
			"approval_id", ev.ApprovalID)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "queue_full",
			"message": "Event queue is full, retry later",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// listRevocationsHandler returns the revocation audit trail for an owner.
func (s *Server) listRevocationsHandler(c *gin.Context) {
	owner := validation.NormalizeAddress(c.Param("address"))

	records, err := s.records.ListByOwner(c.Request.Context(), owner, 100)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list revocations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list revocations",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner":       owner,
		"revocations": records,
		"count":       len(records),
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sentinel",
		"description": "Autonomous token-approval threat response",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
		"strategy":    s.cfg.SubmissionStrategy,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	statuses, healthy := s.checks.Run(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"chain_id", s.cfg.ChainID,
			"strategy", s.cfg.SubmissionStrategy,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start pipeline workers
	s.pipeline.Start(runCtx)

	// Sample DB pool stats into Prometheus
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

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop accepting new connections first
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Drain queued events before tearing down their dependencies
	s.pipeline.Stop()
	s.logger.Info("pipeline drained")

	// Cancel the context for remaining background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close RPC connection
	if s.chainClient != nil {
		s.chainClient.Close()
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
