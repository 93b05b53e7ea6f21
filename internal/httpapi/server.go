package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rickgao/earnings-feed/internal/api"
	"github.com/rickgao/earnings-feed/internal/connection"
	"github.com/rickgao/earnings-feed/internal/feed"
	"github.com/rickgao/earnings-feed/internal/linkfetch"
	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/version"
)

// Feed is the read and session side of feed.Feed.
type Feed interface {
	View() *feed.View
	Subscribe() (<-chan *feed.View, func())
	Reset(ctx context.Context) error
	Message(id string) (model.Message, bool)
}

// Refresher triggers an on-demand snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// PushControl toggles the push channel.
type PushControl interface {
	Enable() error
	Disable()
	Enabled() bool
	State() connection.State
}

// Resources serves the per-ticker REST resources.
type Resources interface {
	Earnings(ctx context.Context, date string) ([]model.EarningsItem, error)
	HistoricalMetrics(ctx context.Context, ticker, date string) (*model.HistoricalMetrics, error)
	CompanyConfig(ctx context.Context, ticker string) (*model.CompanyConfig, error)
	PutHistoricalMetrics(ctx context.Context, ticker, date string, doc json.RawMessage) error
	PutCompanyConfig(ctx context.Context, ticker string, doc json.RawMessage) error
}

// LinkFetcher renders link messages.
type LinkFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*linkfetch.Page, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the API. Feed and Resources are
// required; the rest may be nil when the feature is disabled.
type Deps struct {
	Feed         Feed
	Refresher    Refresher
	Push         PushControl
	Resources    Resources
	Links        LinkFetcher
	DB           Pinger
	CacheBackend string
}

// Config holds server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	SSEKeepAlive    time.Duration
	Mode            string // gin mode
	RequestTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		SSEKeepAlive:    15 * time.Second,
		Mode:            gin.ReleaseMode,
		RequestTimeout:  30 * time.Second,
	}
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine

	// closing is closed when shutdown begins so long-lived streams end.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server and registers all routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.SSEKeepAlive <= 0 {
		cfg.SSEKeepAlive = def.SSEKeepAlive
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	gin.SetMode(cfg.Mode)
	r := gin.New()

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "httpapi"),
		engine:  r,
		closing: make(chan struct{}),
	}

	r.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	g := s.engine.Group("/api")
	g.GET("/feed", s.handleFeed)
	g.GET("/feed/events", s.handleEvents)
	g.POST("/feed/refresh", s.handleRefresh)
	g.POST("/feed/reset", s.handleReset)
	g.POST("/feed/push", s.handlePush)
	g.GET("/messages/:id/link", s.handleLink)

	g.GET("/earnings", s.handleEarnings)
	g.GET("/configs/:ticker", s.handleGetConfig)
	g.PUT("/configs/:ticker", s.handlePutConfig)
	g.GET("/historical/:ticker", s.handleGetHistorical)
	g.PUT("/historical/:ticker", s.handlePutHistorical)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for handlers but does not cancel their contexts.
	srv.RegisterOnShutdown(s.closeStreams)

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", srv.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handleHealth(c *gin.Context) {
	v := s.deps.Feed.View()

	body := gin.H{
		"status":       "ok",
		"version":      version.Get(),
		"cache":        s.deps.CacheBackend,
		"baselined":    v.Baselined,
		"known":        v.Known,
		"snapshot_seq": v.SnapshotSeq,
	}
	if !v.LastSnapshot.IsZero() {
		body["last_snapshot"] = v.LastSnapshot
	}

	if s.deps.Push != nil {
		body["push"] = gin.H{"enabled": s.deps.Push.Enabled(), "state": s.deps.Push.State()}
	} else {
		body["push"] = gin.H{"enabled": false, "state": connection.StateDisconnected}
	}

	status := http.StatusOK
	if s.deps.DB == nil {
		body["database"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			body["database"] = "unreachable"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// requestID propagates or assigns X-Request-Id.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(api.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(api.RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString("request_id"),
		)
	}
}

// requestContext bounds upstream calls made on behalf of a request.
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// upstreamError maps errors from REST collaborators to a response.
func (s *Server) upstreamError(c *gin.Context, op string, err error) {
	var apiErr *api.APIError
	switch {
	case api.IsNotFound(err):
		abortError(c, http.StatusNotFound, "not found")
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
		abortError(c, http.StatusBadRequest, apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("upstream timeout", "op", op, "error", err)
		abortError(c, http.StatusGatewayTimeout, op+": upstream timeout")
	default:
		s.logger.Warn("upstream error", "op", op, "error", err)
		abortError(c, http.StatusBadGateway, op+": "+err.Error())
	}
}
