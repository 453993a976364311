// Package profiling serves pprof endpoints. They expose goroutine stacks
// and memory contents, so they run on their own listener and never share
// the resource API's address.
package profiling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Path is the URL prefix of the profiling endpoints
const Path = "/debug/pprof"

// Handler returns a router serving the pprof endpoints under Path
func Handler() http.Handler {
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	router := chi.NewRouter()
	router.Route(Path, func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
	return router
}

// Server is a profiling listener
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// Listen binds addr. Run must be called to serve.
func Listen(addr string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv:      &http.Server{Handler: Handler(), ReadHeaderTimeout: 10 * time.Second},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("profiling enabled", zap.String("addr", s.Addr()+Path))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
