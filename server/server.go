package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/mengelbart/vstream/internal/metrics"
)

type Option func(*Server) error

// WithMediaRoot serves resources from the directory dir.
func WithMediaRoot(dir string) Option {
	return func(s *Server) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("invalid media root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("invalid media root: %v is not a directory", dir)
		}
		s.media = os.DirFS(dir)
		return nil
	}
}

func WithMediaFS(fsys fs.FS) Option {
	return func(s *Server) error {
		s.media = fsys
		return nil
	}
}

// WithPacketListener sets the function used to bind the data-plane connection
// of a session on its first PLAY.
func WithPacketListener(listen func() (net.PacketConn, error)) Option {
	return func(s *Server) error {
		s.listenPacket = listen
		return nil
	}
}

// WithDataHost overrides the host datagrams are sent to. By default the host
// of the control connection's peer is used.
func WithDataHost(host string) Option {
	return func(s *Server) error {
		s.dataHost = host
		return nil
	}
}

// WithScheduling sets the options applied to every scheduler the server
// starts.
func WithScheduling(opts ...SchedulerOption) Option {
	return func(s *Server) error {
		s.schedulerOpts = append(s.schedulerOpts, opts...)
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// Server accepts control connections and runs one Session per connection.
type Server struct {
	media         fs.FS
	listenPacket  func() (net.PacketConn, error)
	dataHost      string
	schedulerOpts []SchedulerOption
	logger        *slog.Logger
	metrics       *metrics.Metrics

	lock     sync.Mutex
	sessions map[uuid.UUID]*Session
	wg       sync.WaitGroup
}

func New(opts ...Option) (*Server, error) {
	s := &Server{
		media:         nil,
		listenPacket:  listenUDP,
		dataHost:      "",
		schedulerOpts: nil,
		logger:        slog.Default(),
		metrics:       nil,
		sessions:      map[uuid.UUID]*Session{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.media == nil {
		s.media = os.DirFS(".")
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s, nil
}

func listenUDP() (net.PacketConn, error) {
	return net.ListenPacket("udp", ":0")
}

// ListenAndServe listens on the TCP address addr and serves control
// connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln fails. It
// closes ln and returns after all sessions have ended.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()
	defer s.wg.Wait()

	s.logger.Info("serving control connections", "address", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		s.wg.Go(func() {
			_ = s.ServeConn(ctx, conn)
		})
	}
}

// ServeConn runs a session on conn and blocks until it ends.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	session := newSession(s, conn)
	s.lock.Lock()
	s.sessions[session.id] = session
	s.lock.Unlock()
	s.metrics.SessionOpened()

	defer func() {
		s.lock.Lock()
		delete(s.sessions, session.id)
		s.lock.Unlock()
		s.metrics.SessionClosed()
	}()

	err := session.serve(ctx)
	if err != nil {
		session.logger.Error("session aborted", "error", err)
	}
	return err
}

// Sessions returns a snapshot of all open sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.lock.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.lock.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// Session returns the info of the session with the given ID.
func (s *Server) Session(id string) (SessionInfo, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return SessionInfo{}, false
	}
	s.lock.Lock()
	session, ok := s.sessions[uid]
	s.lock.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return session.Info(), true
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
