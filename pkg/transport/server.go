// Package transport exposes bridged agents over HTTP: one SSE run endpoint
// per agent plus discovery, health, and metrics.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/bridge"
	"github.com/kadirpekel/aguibridge/pkg/config"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// Runner executes one run, emitting events to sink in order. It is the
// server-side face of a bridged agent; *bridge.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, input *agui.RunAgentInput, sink bridge.EventSink) error
}

// Endpoint is one bridged agent exposed over HTTP.
type Endpoint struct {
	Name        string
	Description string

	// Tools are the server-declared tool specs, published by discovery.
	Tools []agui.ToolSpec

	Runner Runner
}

// Server routes runs to endpoints. Endpoints can be swapped at runtime, which
// is how config reload works without dropping the listener.
type Server struct {
	config *config.ServerConfig
	obs    *observability.Manager

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server for the given configuration. A nil cfg uses
// defaults; a nil manager disables observability.
func NewServer(cfg *config.ServerConfig, obs *observability.Manager) *Server {
	if cfg == nil {
		cfg = &config.ServerConfig{}
		cfg.SetDefaults()
	}
	if obs == nil {
		obs = observability.NoopManager()
	}
	return &Server{
		config:    cfg,
		obs:       obs,
		endpoints: make(map[string]*Endpoint),
	}
}

// SetEndpoints replaces the full endpoint set. Discovery preserves the given
// order. In-flight runs keep their old endpoint until they finish.
func (s *Server) SetEndpoints(endpoints []*Endpoint) {
	byName := make(map[string]*Endpoint, len(endpoints))
	order := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := byName[ep.Name]; dup {
			continue
		}
		byName[ep.Name] = ep
		order = append(order, ep.Name)
	}

	s.mu.Lock()
	s.endpoints = byName
	s.order = order
	s.mu.Unlock()
}

// Endpoint looks up a bridged agent by name.
func (s *Server) Endpoint(name string) (*Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[name]
	return ep, ok
}

// Endpoints returns the endpoint set in registration order.
func (s *Server) Endpoints() []*Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.endpoints[name])
	}
	return out
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.corsHeaders)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Get("/healthz", s.handleHealth)
		r.Get("/agents", s.handleDiscovery)
		if s.obs.MetricsEnabled() {
			r.Method(http.MethodGet, s.obs.MetricsPath(), s.obs.MetricsHandler())
		}
	})

	// The run stream reports its errors in-band, so it stays outside
	// Recoverer; a 500 page cannot be written into a live event stream.
	base := strings.TrimRight(s.config.BasePath, "/")
	if base == "" {
		r.Post("/{agent}", s.handleRun)
	} else {
		r.Route(base, func(r chi.Router) {
			r.Post("/{agent}", s.handleRun)
		})
	}

	return r
}

// Start listens and serves until Stop is called. Blocking.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		// No WriteTimeout: event streams stay open indefinitely.
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("HTTP server starting",
		"address", listener.Addr().String(),
		"base_path", s.config.BasePath)

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	slog.Info("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Address returns the bound address once the server is listening, which is
// how callers learn the port after binding ":0".
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address()
}

// Run serves until the context is cancelled or a SIGINT/SIGTERM arrives, then
// shuts down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// logRequests logs every request with its status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start))
	})
}

// corsHeaders applies the configured CORS policy and short-circuits
// preflight requests.
func (s *Server) corsHeaders(next http.Handler) http.Handler {
	cors := s.config.CORS
	if cors == nil {
		return next
	}

	methods := strings.Join(cors.AllowedMethods, ", ")
	headers := strings.Join(cors.AllowedHeaders, ", ")
	credentials := config.BoolValue(cors.AllowCredentials, false)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowOrigin(cors.AllowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if methods != "" {
			w.Header().Set("Access-Control-Allow-Methods", methods)
		}
		if headers != "" {
			w.Header().Set("Access-Control-Allow-Headers", headers)
		}
		if credentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowOrigin picks the Allow-Origin value: "*" passes everything, otherwise
// the request origin is echoed back only when the list contains it.
func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && a == origin {
			return origin
		}
	}
	return ""
}
