package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l9p/l9p/internal/logger"
)

// Server exposes the registry over HTTP for Prometheus scraping:
//   - GET /metrics: metrics in text format
//   - GET /: index page linking to /metrics
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer creates a metrics HTTP server listening on addr (host:port).
// The server is created stopped; call Start to begin serving.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()

	if IsEnabled() {
		mux.Handle("/metrics", promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "l9pd metrics server\n\nPrometheus metrics: /metrics\n")
	})

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		addr: addr,
	}
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers graceful shutdown with a 5-second grace period.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("metrics: listening on %s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics: server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics: shutdown: %w", err)
		} else {
			logger.Info("metrics: server stopped")
		}
	})
	return shutdownErr
}
