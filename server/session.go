package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/media"
	"github.com/mengelbart/vstream/rtsp"
)

// Session is the producer side of one control connection.
type Session struct {
	id      uuid.UUID
	server  *Server
	conn    net.Conn
	logger  *slog.Logger
	created time.Time

	state atomic.Int32

	lock     sync.Mutex
	resource string
	cseq     int
	source   *media.Source
	dataConn net.PacketConn
	sched    *Scheduler
	cancel   context.CancelFunc
	done     chan struct{}
	sent     uint64
	dropped  uint64
}

// SessionInfo is a snapshot of a session for the status API.
type SessionInfo struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	Resource      string    `json:"resource"`
	State         string    `json:"state"`
	CSeq          int       `json:"cseq"`
	FramesSent    uint64    `json:"frames-sent"`
	FramesDropped uint64    `json:"frames-dropped"`
	Created       time.Time `json:"created"`
}

func newSession(server *Server, conn net.Conn) *Session {
	id := uuid.New()
	return &Session{
		id:      id,
		server:  server,
		conn:    conn,
		logger:  server.logger.With("session", id.String(), "remote", conn.RemoteAddr().String()),
		created: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) State() rtsp.State {
	return rtsp.State(s.state.Load())
}

func (s *Session) Info() SessionInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	sent, dropped := s.sent, s.dropped
	if s.sched != nil {
		stats := s.sched.Stats()
		sent += stats.Sent
		dropped += stats.Dropped
	}
	return SessionInfo{
		ID:            s.id.String(),
		Remote:        s.conn.RemoteAddr().String(),
		Resource:      s.resource,
		State:         s.State().String(),
		CSeq:          s.cseq,
		FramesSent:    sent,
		FramesDropped: dropped,
		Created:       s.created,
	}
}

// serve reads requests until TEARDOWN, connection loss or cancellation of
// ctx. Every parsed request gets exactly one reply.
func (s *Session) serve(ctx context.Context) error {
	defer func() {
		if err := s.close(); err != nil {
			s.logger.Warn("failed to release session resources", "error", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	s.logger.Info("session opened")
	br := bufio.NewReader(s.conn)
	for {
		req, err := rtsp.ReadRequest(br)
		if err != nil {
			var perr *rtsp.ProtocolError
			if errors.As(err, &perr) {
				s.logger.Warn("invalid request", "error", err, "cseq", perr.CSeq)
				if perr.CSeq < 0 {
					continue
				}
				s.server.metrics.RecordRequest("invalid", int(rtsp.StatusBadRequest))
				if err = s.reply(rtsp.Reply{Status: rtsp.StatusBadRequest, CSeq: perr.CSeq}); err != nil {
					return err
				}
				continue
			}
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				s.logger.Info("control connection closed")
				return nil
			}
			return &vstream.ConnectionError{Op: "read", Err: err}
		}

		reply := s.handle(ctx, req)
		if err = s.reply(reply); err != nil {
			return err
		}
		if req.Verb == rtsp.Teardown {
			s.logger.Info("session torn down")
			return nil
		}
	}
}

func (s *Session) reply(reply rtsp.Reply) error {
	if _, err := s.conn.Write(reply.Marshal()); err != nil {
		return &vstream.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (s *Session) handle(ctx context.Context, req rtsp.Request) rtsp.Reply {
	s.lock.Lock()
	s.cseq = req.CSeq
	s.lock.Unlock()

	status := s.dispatch(ctx, req)
	s.server.metrics.RecordRequest(req.Verb.String(), int(status))
	s.logger.Info(
		"handled request",
		"verb", req.Verb.String(),
		"resource", req.Resource,
		"cseq", req.CSeq,
		"status", int(status),
		"state", s.State().String(),
	)
	return rtsp.Reply{Status: status, CSeq: req.CSeq}
}

func (s *Session) dispatch(ctx context.Context, req rtsp.Request) rtsp.Status {
	next, ok := s.State().Next(req.Verb)
	if !ok {
		return rtsp.StatusMethodNotValidInState
	}

	var err error
	switch req.Verb {
	case rtsp.Setup:
		err = s.setup(req)
	case rtsp.Play:
		err = s.play(ctx, req)
	case rtsp.Pause, rtsp.Teardown:
		s.stopScheduler()
	}
	if err != nil {
		if errors.Is(err, vstream.ErrResourceNotFound) {
			s.logger.Warn("resource not found", "resource", req.Resource, "error", err)
			return rtsp.StatusNotFound
		}
		s.logger.Error("request failed", "verb", req.Verb.String(), "error", err)
		return rtsp.StatusInternalServerError
	}
	s.state.Store(int32(next))
	return rtsp.StatusOK
}

func (s *Session) setup(req rtsp.Request) error {
	src, err := media.OpenFS(s.server.media, req.Resource)
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.resource = req.Resource
	s.source = src
	return nil
}

func (s *Session) play(ctx context.Context, req rtsp.Request) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.dataConn == nil {
		pc, err := s.server.listenPacket()
		if err != nil {
			return fmt.Errorf("failed to bind data connection: %w", err)
		}
		s.logger.Info("bound data connection", "local", pc.LocalAddr().String())
		s.dataConn = pc
	}
	dst, err := s.dataAddr(req.ClientPort)
	if err != nil {
		return err
	}

	m := s.server.metrics
	opts := append(
		slices.Clone(s.server.schedulerOpts),
		SchedulerLogger(s.logger.With("component", "scheduler")),
		SchedulerOnSent(m.FrameSent),
		SchedulerOnDropped(m.FrameDropped),
	)
	sched, err := NewScheduler(s.source, s.dataConn, dst, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.sched = sched
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		if err := sched.Run(ctx); err != nil {
			s.logger.Error("scheduler stopped", "error", err)
			m.SchedulerErrors.Inc()
		}
	}()
	s.logger.Info("started scheduler", "destination", dst.String())
	return nil
}

// dataAddr returns the consumer's data-plane address: the peer address of the
// control connection, or the configured data host, with the requested port.
func (s *Session) dataAddr(port int) (net.Addr, error) {
	host := s.server.dataHost
	if host == "" {
		switch addr := s.conn.RemoteAddr().(type) {
		case *net.TCPAddr:
			return &net.UDPAddr{IP: addr.IP, Port: port, Zone: addr.Zone}, nil
		default:
			h, _, err := net.SplitHostPort(addr.String())
			if err != nil {
				return nil, fmt.Errorf("failed to derive data address from %v: %w", addr, err)
			}
			host = h
		}
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// stopScheduler cancels the running scheduler, if any, and waits for it to
// return.
func (s *Session) stopScheduler() {
	s.lock.Lock()
	sched, cancel, done := s.sched, s.cancel, s.done
	s.lock.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	stats := sched.Stats()
	s.lock.Lock()
	s.sched = nil
	s.cancel = nil
	s.done = nil
	s.sent += stats.Sent
	s.dropped += stats.Dropped
	s.lock.Unlock()
}

func (s *Session) close() error {
	s.stopScheduler()
	s.state.Store(int32(rtsp.Init))

	s.lock.Lock()
	defer s.lock.Unlock()
	var errs []error
	if s.dataConn != nil {
		errs = append(errs, s.dataConn.Close())
		s.dataConn = nil
	}
	if s.source != nil {
		errs = append(errs, s.source.Close())
		s.source = nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
