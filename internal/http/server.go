package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = time.Second

type Option func(*Server) error

func Address(address string) Option {
	return func(s *Server) error {
		s.h1.Addr = address
		return nil
	}
}

func Handle(handler http.Handler) Option {
	return func(s *Server) error {
		s.handler = handler
		return nil
	}
}

func Logger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func RequestLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.requestLogger = logger
		return nil
	}
}

// Server serves the status API over HTTP/1.1.
type Server struct {
	logger        *slog.Logger
	requestLogger *slog.Logger

	handler http.Handler
	h1      *http.Server
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:        slog.Default(),
		requestLogger: nil,
		handler:       http.DefaultServeMux,
		h1:            &http.Server{ReadHeaderTimeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.requestLogger != nil {
		s.handler = s.logRequest(s.handler)
	}
	s.h1.Handler = s.handler
	return s, nil
}

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.h1.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("serving HTTP/1.1", "address", ln.Addr().String())
		err := s.h1.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.h1.Shutdown(shutdownCtx); err != nil {
			return errors.Join(err, s.h1.Close())
		}
		return nil
	})
	return eg.Wait()
}

// Middleware

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger.Info("got request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
