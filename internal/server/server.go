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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/LukasBures/olynthus/internal/assessments"
	"github.com/LukasBures/olynthus/internal/cache"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/config"
	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/domains"
	"github.com/LukasBures/olynthus/internal/events"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/health"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
	"github.com/LukasBures/olynthus/internal/multiplexer"
	"github.com/LukasBures/olynthus/internal/nft"
	"github.com/LukasBures/olynthus/internal/pricing"
	"github.com/LukasBures/olynthus/internal/provider"
	"github.com/LukasBures/olynthus/internal/ratelimit"
	"github.com/LukasBures/olynthus/internal/realtime"
	"github.com/LukasBures/olynthus/internal/safeguard"
	"github.com/LukasBures/olynthus/internal/security"
	"github.com/LukasBures/olynthus/internal/simulation"
	"github.com/LukasBures/olynthus/internal/traces"
	"github.com/LukasBures/olynthus/internal/upstream"
	"github.com/LukasBures/olynthus/internal/validation"
)

// Version is reported by /health and /api.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	dataset      dataset.Store
	providers    *provider.Pool
	engine       *safeguard.Engine
	assessments  *assessments.Service
	kafka        *events.KafkaSink
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil without DATABASE_URL
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

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

// WithDataset injects the dataset store (for testing)
func WithDataset(store dataset.Store) Option {
	return func(s *Server) {
		s.dataset = store
	}
}

// WithProviderOptions is passed to the provider pool; tests use it to
// replace ethclient dialing.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(s *Server) {
		s.providers = provider.NewPool(s.cfg, opts...)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
		stopTracing = func(context.Context) error { return nil }
	}
	s.stopTracing = stopTracing

	// The audit log lives in Postgres when DATABASE_URL is set, and shares
	// its pool with a postgres dataset backend.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	}

	if s.dataset == nil {
		if cfg.DatasetBackend == config.BackendPostgres && s.db != nil {
			s.dataset = dataset.Instrument(dataset.NewPostgresStore(s.db))
		} else {
			store, err := dataset.New(ctx, cfg)
			if err != nil {
				s.closeDB()
				return nil, fmt.Errorf("failed to open dataset: %w", err)
			}
			s.dataset = store
		}
	}
	s.logger.Info("dataset ready", "backend", cfg.DatasetBackend)

	if s.providers == nil {
		s.providers = provider.NewPool(cfg,
			provider.WithLogger(s.logger),
			provider.WithExplorerOptions(
				explorer.WithLimiter(ratelimit.New(ratelimit.ExplorerConfig(cfg.ExplorerRateLimit, cfg.ExplorerRateInterval))),
				explorer.WithCache(cache.New[[]byte]()),
				explorer.WithLogger(s.logger),
			),
		)
	}
	mux := multiplexer.New(s.providers, multiplexer.WithLogger(s.logger))

	prices := pricing.New(cfg.DefiLlamaURL,
		upstream.New("defillama", upstream.WithTimeout(cfg.UpstreamTimeout), upstream.WithLogger(s.logger)),
		s.logger)
	nfts := nft.New(cfg.SimpleHashURL,
		upstream.New("simplehash",
			upstream.WithTimeout(cfg.UpstreamTimeout),
			upstream.WithHeader("X-API-KEY", cfg.SimpleHashAPIKey),
			upstream.WithLogger(s.logger)),
		s.logger)
	simOpts := []simulation.Option{simulation.WithLogger(s.logger)}
	if !cfg.SimulationEnabled || cfg.TenderlyURL == "" {
		simOpts = append(simOpts, simulation.Disabled())
		s.logger.Info("transaction simulation disabled")
	}
	sim := simulation.New(cfg.TenderlyURL,
		upstream.New("tenderly",
			upstream.WithTimeout(cfg.UpstreamTimeout),
			upstream.WithHeader("X-Access-Key", cfg.TenderlyAccessKey),
			upstream.WithLogger(s.logger)),
		mux, simOpts...)

	// Completed assessments fan out to the live feed and, when configured,
	// to Kafka.
	s.realtimeHub = realtime.NewHub(logging.Component(s.logger, "realtime"))
	sinks := events.NewMulti(s.logger).Add("hub", events.NewHubSink(s.realtimeHub))
	if cfg.KafkaEnabled() {
		kafka, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			s.logger.Warn("kafka sink disabled", "brokers", cfg.KafkaBrokers, "error", err)
		} else {
			s.kafka = kafka
			sinks.Add("kafka", kafka)
			s.logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
		}
	}

	var auditStore assessments.Store
	if s.db != nil {
		auditStore = assessments.NewPostgresStore(s.db)
	} else {
		auditStore = assessments.NewMemoryStore()
		s.logger.Info("using in-memory assessment log (data will not persist)")
	}
	s.assessments = assessments.NewService(auditStore, sinks).WithLogger(s.logger)

	s.engine = safeguard.NewEngine(
		mux,
		s.dataset,
		domains.NewChecker(s.dataset, s.logger),
		prices,
		nfts,
		sim,
	).WithObserver(s.assessments).WithLogger(s.logger)

	s.health = health.NewRegistry()
	s.health.Register("dataset", health.Ping("dataset", s.dataset.Ping))
	s.health.Register("providers", health.Ping("providers", func(ctx context.Context) error {
		return s.providers.Check(ctx, chain.Ethereum, chain.Mainnet)
	}))
	if s.kafka != nil {
		s.health.Register("kafka", health.Ping("kafka", s.kafka.Ping))
	}

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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.Requests = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, wallet backend).
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")

	safeguard.NewHandler(s.engine).RegisterRoutes(v1)
	assessments.NewHandler(s.assessments).RegisterRoutes(v1)

	v1.GET("/stream", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Olynthus",
		"description": "Risk profiles for wallet transactions, signatures and counterparties",
		"version":     Version,
		"chains":      []chain.Chain{chain.Ethereum, chain.BSC, chain.Polygon},
		"dataset":     s.cfg.DatasetBackend,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka close error", "error", err)
		}
	}

	if err := s.dataset.Close(); err != nil {
		s.logger.Error("dataset close error", "error", err)
	}
	s.closeDB()

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
