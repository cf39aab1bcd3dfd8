package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the migration metrics for Prometheus scraping, plus a
// liveness endpoint for the wrapper scripts that babysit long-running
// migrations.
type Server struct {
	http     *http.Server
	listener net.Listener
}

// NewServer creates a server for addr, e.g. ":9090". Nothing is bound
// until Start.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start binds the address and begins serving in the background. Bind
// failures are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("binding metrics listener on %s: %w", s.http.Addr, err)
	}
	s.listener = ln

	go func() {
		// Serve returns ErrServerClosed after Shutdown
		_ = s.http.Serve(ln)
	}()
	return nil
}

// Addr returns the bound address. Useful when Start was given port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.http.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
