// Package api exposes the relay over HTTP: a server-sent event stream, a
// WebSocket variant, and liveness/readiness/metrics endpoints.
package api

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/Kunsh1/spin-gpt/pkg/config"
	"github.com/Kunsh1/spin-gpt/pkg/relay"
)

// Streamer runs one prompt cycle, emitting events to the caller.
type Streamer interface {
	Stream(ctx context.Context, prompt string, emit relay.Emitter) error
}

// Status is the readiness snapshot reported by /readyz.
type Status struct {
	Ready   bool   `json:"ready"`
	Reason  string `json:"reason,omitempty"`
	Holder  string `json:"holder,omitempty"`
	Waiting int    `json:"waiting"`
	Served  int64  `json:"served"`
	Health  any    `json:"health,omitempty"`
	Bridge  any    `json:"bridge,omitempty"`
	Browser any    `json:"browser,omitempty"`
}

// Config configures the API server.
type Config struct {
	Address      string
	AllowRemote  bool
	CORSOrigins  []string
	RateLimit    float64 // requests per second per client; 0 disables
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// ConfigFrom maps the server section of the application config.
func ConfigFrom(cfg config.ServerConfig, version string) Config {
	return Config{
		Address:      cfg.Bind,
		AllowRemote:  cfg.AllowRemote,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Version:      version,
	}
}

// Server is the relay HTTP front end.
type Server struct {
	cfg      Config
	streamer Streamer
	status   func() Status
	limiter  *clientLimiter
	logger   *log.Logger
	router   *chi.Mux
	eventLog string

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStatus supplies the readiness snapshot.
func WithStatus(fn func() Status) Option {
	return func(s *Server) { s.status = fn }
}

// WithLogger replaces the default access logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventLog serves the tail of the JSONL event log at path on
// /debug/events.
func WithEventLog(path string) Option {
	return func(s *Server) { s.eventLog = path }
}

// NewServer builds the router. streamer is required.
func NewServer(cfg Config, streamer Streamer, opts ...Option) (*Server, error) {
	if streamer == nil {
		return nil, fmt.Errorf("api server requires a streamer")
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8000"
	}
	if !cfg.AllowRemote && !config.IsLoopbackBindAddress(cfg.Address) {
		return nil, fmt.Errorf("refusing to bind %q without allow_remote", cfg.Address)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}

	s := &Server{
		cfg:      cfg,
		streamer: streamer,
		status:   func() Status { return Status{Ready: true} },
		logger:   log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(securityHeadersMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Get("/metrics", handleMetrics)
	if s.eventLog != "" {
		router.Get("/debug/events", s.handleRecentEvents)
	}

	router.Route("/api/chat", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Get("/", s.handleChat)
		r.Post("/", s.handleChat)
		r.Get("/ws", s.handleChatWebSocket)
	})
	return router
}

// Handler returns the HTTP handler, including h2c support.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.router, &http2.Server{})
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout, // streams clear their own deadline
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Printf("serving relay on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
