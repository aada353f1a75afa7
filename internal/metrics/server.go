package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// ConnStater reports a feed's connection state.
type ConnStater interface {
	ConnState() domain.ConnState
}

// NewRouter serves /metrics, /healthz and /readyz. The instance is ready
// while its feed connection is open.
func NewRouter(m *Metrics, feed ConnStater) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		state := feed.ConnState()
		if state != domain.ConnConnected {
			writeText(w, http.StatusServiceUnavailable, state.String())
			return
		}
		writeText(w, http.StatusOK, "ready")
	})
	return r
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}

// Server runs the metrics HTTP endpoint.
type Server struct {
	srv     *http.Server
	logger  ports.Logger
	started bool
	done    chan struct{}
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger ports.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.started = true
	s.logger.Info("metrics server listening", ports.String("addr", ln.Addr().String()))

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", ports.Err(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if !s.started {
		return err
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
