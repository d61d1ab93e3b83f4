package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dchatmesh/dchat-core/pkg/dlog"
)

// Server is a standalone HTTP server exposing this package's gauges and
// counters at /metrics.
type Server struct {
	srv *http.Server
}

// NewServer starts a Server listening on addr. Listen failures other than
// a clean Shutdown are logged at Crit: a metrics listener crash is not
// recoverable from inside the node.
func NewServer(addr string, log *dlog.Sink) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{srv: &http.Server{Addr: addr, Handler: mux}}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Log(dlog.Crit, "metrics server failed", dlog.Fields{"error": err.Error()})
		}
	}()

	return s
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() <-chan error {
	c := make(chan error, 1)
	go func() {
		c <- s.srv.Shutdown(context.Background())
		close(c)
	}()
	return c
}
