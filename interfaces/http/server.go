// Package http serves the round-table engine over HTTP.
//
// Executions stream their stage events as server-sent events, or as
// newline-delimited JSON when the client asks for application/x-ndjson.
// The remaining routes manage the per-user knowledge, vault and extension
// state the engine reads during an invocation.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/observability"
	api "github.com/felixgeelhaar/roundtable/interfaces/api"
)

const (
	defaultHeartbeat   = 15 * time.Second
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 10 * time.Second
	defaultRatePerUser = 5
)

// Server exposes a Runtime over HTTP.
type Server struct {
	rt        *api.Runtime
	router    *gin.Engine
	limiter   ratelimit.RateLimiter
	heartbeat time.Duration
	addr      string
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter replaces the per-user execution limiter.
func WithRateLimiter(l ratelimit.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithHeartbeat sets the keep-alive interval of idle event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithAddress overrides the configured listen address.
func WithAddress(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// New creates a server for the runtime.
func New(rt *api.Runtime, opts ...Option) *Server {
	cfg := rt.Config.Server
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		rt:        rt,
		heartbeat: cfg.HeartbeatInterval.Duration(),
		addr:      cfg.Address,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeat
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = newUserLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		requestLogger(),
		observability.GinMiddleware(rt.Tracer, rt.Metrics),
		cors.New(corsConfig(cfg.AllowedOrigins)),
	)
	s.routes()
	return s
}

func newUserLimiter(rate, burst int) ratelimit.RateLimiter {
	if rate <= 0 {
		rate = defaultRatePerUser
	}
	if burst <= 0 {
		burst = rate
	}
	return ratelimit.New(&ratelimit.Config{
		Rate:  rate,
		Burst: burst,
	})
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	c.ExposeHeaders = []string{runIDHeader}
	return c
}

func (s *Server) routes() {
	v1 := s.router.Group("/v1")
	{
		v1.POST("/agent/execute", s.execute)

		v1.POST("/memory/fact", s.saveFact)
		v1.DELETE("/memory/fact", s.deleteFact)
		v1.GET("/memory/context", s.memoryContext)
		v1.POST("/memory/learn", s.learn)

		v1.POST("/vault", s.vault)
		v1.GET("/vault", s.vaultKeys)

		v1.POST("/extensions/install", s.installExtension)

		v1.GET("/system/status", s.status)
		v1.GET("/runs/:id", s.runSummary)
		v1.GET("/audit", s.auditTrail)
	}

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.rt.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.rt.Metrics.Handler()))
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Add(logging.Component("http")).
			Add(logging.Str("address", s.addr)).
			Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info().Add(logging.Component("http")).Msg("server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug().
			Add(logging.Component("http")).
			Add(logging.Str("method", c.Request.Method)).
			Add(logging.Str("path", c.Request.URL.Path)).
			Add(logging.Int("status", c.Writer.Status())).
			Add(logging.Duration(time.Since(start))).
			Msg("request")
	}
}
