package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/rtsp"
)

type Option func(*Client) error

// WithRTPPort sets the local UDP port datagrams are received on. Port 0 picks
// an ephemeral port.
func WithRTPPort(port int) Option {
	return func(c *Client) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid RTP port: %v", port)
		}
		c.rtpPort = port
		return nil
	}
}

// WithPacketConn receives datagrams on conn instead of binding a UDP port.
// The client closes conn on TEARDOWN.
func WithPacketConn(conn net.PacketConn) Option {
	return func(c *Client) error {
		c.packetConn = conn
		return nil
	}
}

func WithSink(sink vstream.FrameSink) Option {
	return func(c *Client) error {
		c.sink = sink
		return nil
	}
}

func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.receiveTimeout = d
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

func WithTracePackets(enable bool) Option {
	return func(c *Client) error {
		c.trace = enable
		return nil
	}
}

// Client is the consumer side of a session. Requests are serialized; every
// verb method blocks until its reply arrives.
type Client struct {
	conn     net.Conn
	resource string
	logger   *slog.Logger

	rtpPort        int
	packetConn     net.PacketConn
	sink           vstream.FrameSink
	receiveTimeout time.Duration
	trace          bool

	state atomic.Int32

	// reqLock serializes verb methods.
	reqLock    sync.Mutex
	receiver   *Receiver
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	lock        sync.Mutex
	cseq        int
	outstanding rtsp.Request
	pending     bool

	replies chan rtsp.Reply
	closing atomic.Bool
	done    chan struct{}
	err     error
}

// Dial connects to the control address addr.
func Dial(ctx context.Context, addr, resource string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &vstream.ConnectionError{Op: "dial", Err: err}
	}
	c, err := New(conn, resource, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New creates a client for resource on an established control connection
// and starts reading replies.
func New(conn net.Conn, resource string, opts ...Option) (*Client, error) {
	c := &Client{
		conn:           conn,
		resource:       resource,
		logger:         slog.Default(),
		rtpPort:        0,
		packetConn:     nil,
		sink:           vstream.Discard,
		receiveTimeout: DefaultReceiveTimeout,
		trace:          false,
		replies:        make(chan rtsp.Reply, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("resource", resource)
	go c.readReplies()
	return c, nil
}

func (c *Client) State() rtsp.State {
	return rtsp.State(c.state.Load())
}

// Stats returns the receiver counters. They are zero before SETUP.
func (c *Client) Stats() ReceiverStats {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()
	if c.receiver == nil {
		return ReceiverStats{}
	}
	return c.receiver.Stats()
}

// Done is closed when the control connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the control connection, or nil if it
// ended by TEARDOWN or Close or has not ended yet.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// DataAddr returns the local address datagrams are received on, or nil before
// SETUP.
func (c *Client) DataAddr() net.Addr {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()
	if c.packetConn == nil {
		return nil
	}
	return c.packetConn.LocalAddr()
}

func (c *Client) Setup(ctx context.Context) error {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	if err := c.checkState(rtsp.Setup); err != nil {
		return err
	}
	if err := c.bind(); err != nil {
		return err
	}
	_, err := c.do(ctx, rtsp.Setup)
	return err
}

func (c *Client) Play(ctx context.Context) error {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	if _, err := c.do(ctx, rtsp.Play); err != nil {
		return err
	}
	c.startReceiver()
	return nil
}

func (c *Client) Pause(ctx context.Context) error {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	if _, err := c.do(ctx, rtsp.Pause); err != nil {
		return err
	}
	c.stopReceiver()
	return nil
}

// Teardown ends the session. The control connection is closed once the
// reply arrived.
func (c *Client) Teardown(ctx context.Context) error {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	_, err := c.do(ctx, rtsp.Teardown)
	if err != nil {
		return err
	}
	c.stopReceiver()
	return c.closePacketConn()
}

// Close releases the client without a TEARDOWN.
func (c *Client) Close() error {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	c.closing.Store(true)
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	<-c.done
	c.stopReceiver()
	return errors.Join(err, c.closePacketConn())
}

func (c *Client) checkState(verb rtsp.Verb) error {
	state := c.State()
	if _, ok := state.Next(verb); !ok {
		return fmt.Errorf("%w: %v in state %v", vstream.ErrInvalidState, verb, state)
	}
	return nil
}

func (c *Client) bind() error {
	if c.packetConn == nil {
		pc, err := net.ListenPacket("udp", net.JoinHostPort("", strconv.Itoa(c.rtpPort)))
		if err != nil {
			return fmt.Errorf("failed to bind data connection: %w", err)
		}
		c.packetConn = pc
	}
	if c.receiver != nil {
		return nil
	}
	r, err := NewReceiver(c.packetConn,
		ReceiverSink(c.sink),
		ReceiverTimeout(c.receiveTimeout),
		ReceiverLogger(c.logger.With("component", "receiver")),
		ReceiverTracePackets(c.trace),
	)
	if err != nil {
		return err
	}
	c.receiver = r
	return nil
}

func (c *Client) dataPort() int {
	if c.packetConn == nil {
		return c.rtpPort
	}
	if addr, ok := c.packetConn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	_, port, err := net.SplitHostPort(c.packetConn.LocalAddr().String())
	if err != nil {
		return c.rtpPort
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return c.rtpPort
	}
	return p
}

// do sends one request for verb and waits for the reply carrying its
// sequence number.
func (c *Client) do(ctx context.Context, verb rtsp.Verb) (rtsp.Reply, error) {
	if err := c.checkState(verb); err != nil {
		return rtsp.Reply{}, err
	}
	select {
	case <-c.done:
		return rtsp.Reply{}, c.connErr()
	default:
	}

	c.lock.Lock()
	c.cseq++
	req := rtsp.Request{
		Verb:       verb,
		Resource:   c.resource,
		CSeq:       c.cseq,
		ClientPort: c.dataPort(),
	}
	c.outstanding = req
	c.pending = true
	c.lock.Unlock()

	// a reply to an abandoned request may still be buffered
	select {
	case <-c.replies:
	default:
	}

	c.logger.Debug("sending request", "verb", verb.String(), "cseq", req.CSeq)
	if _, err := c.conn.Write(req.Marshal()); err != nil {
		return rtsp.Reply{}, &vstream.ConnectionError{Op: "write", Err: err}
	}

	select {
	case reply := <-c.replies:
		return reply, c.result(verb, reply)
	case <-c.done:
		select {
		case reply := <-c.replies:
			return reply, c.result(verb, reply)
		default:
		}
		return rtsp.Reply{}, c.connErr()
	case <-ctx.Done():
		return c.abandon(ctx, verb, req.CSeq)
	}
}

// abandon gives up on the outstanding request so that a late reply is
// dropped instead of changing the local state. If the reply is already being
// applied, it is awaited and returned.
func (c *Client) abandon(ctx context.Context, verb rtsp.Verb, cseq int) (rtsp.Reply, error) {
	c.lock.Lock()
	abandoned := c.pending && c.outstanding.CSeq == cseq
	if abandoned {
		c.pending = false
	}
	c.lock.Unlock()
	if abandoned {
		c.logger.Debug("abandoned request", "verb", verb.String(), "cseq", cseq)
		return rtsp.Reply{}, ctx.Err()
	}

	select {
	case reply := <-c.replies:
		return reply, c.result(verb, reply)
	case <-c.done:
		select {
		case reply := <-c.replies:
			return reply, c.result(verb, reply)
		default:
		}
		return rtsp.Reply{}, c.connErr()
	}
}

func (c *Client) result(verb rtsp.Verb, reply rtsp.Reply) error {
	switch reply.Status {
	case rtsp.StatusOK:
		return nil
	case rtsp.StatusNotFound:
		return fmt.Errorf("%v %v: %w", verb, c.resource, vstream.ErrResourceNotFound)
	}
	return &rtsp.StatusError{Verb: verb, Status: reply.Status}
}

func (c *Client) connErr() error {
	if c.err != nil {
		return c.err
	}
	return &vstream.ConnectionError{Op: "read", Err: net.ErrClosed}
}

// readReplies is the only reader of the control connection.
func (c *Client) readReplies() {
	defer close(c.done)
	br := bufio.NewReader(c.conn)
	for {
		reply, err := rtsp.ReadReply(br)
		if err != nil {
			var perr *rtsp.ProtocolError
			if errors.As(err, &perr) {
				c.logger.Warn("dropping invalid reply", "error", err)
				continue
			}
			if !c.closing.Load() {
				c.err = &vstream.ConnectionError{Op: "read", Err: err}
				c.logger.Error("control connection failed", "error", err)
			}
			return
		}
		if c.handleReply(reply) {
			c.closing.Store(true)
			if err := c.conn.Close(); err != nil {
				c.logger.Warn("failed to close control connection", "error", err)
			}
			return
		}
	}
}

// handleReply applies a reply to the most recent request. Replies with any
// other sequence number are dropped. It reports whether the reply ended the
// session.
func (c *Client) handleReply(reply rtsp.Reply) bool {
	c.lock.Lock()
	req, pending := c.outstanding, c.pending
	if !pending || reply.CSeq != req.CSeq {
		c.lock.Unlock()
		c.logger.Debug("dropping reply with unexpected sequence number", "cseq", reply.CSeq, "expected", req.CSeq)
		return false
	}
	c.pending = false
	c.lock.Unlock()

	if reply.Status == rtsp.StatusOK {
		if next, ok := c.State().Next(req.Verb); ok {
			c.state.Store(int32(next))
		}
	}
	c.logger.Info(
		"received reply",
		"verb", req.Verb.String(),
		"cseq", reply.CSeq,
		"status", int(reply.Status),
		"state", c.State().String(),
	)
	select {
	case c.replies <- reply:
	default:
	}
	return req.Verb == rtsp.Teardown && reply.Status == rtsp.StatusOK
}

func (c *Client) startReceiver() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.recvCancel = cancel
	c.recvDone = done
	go func() {
		defer close(done)
		if err := c.receiver.Run(ctx); err != nil {
			c.logger.Error("receiver stopped", "error", err)
		}
	}()
}

func (c *Client) stopReceiver() {
	if c.recvCancel == nil {
		return
	}
	c.recvCancel()
	// wake up a pending read
	if err := c.packetConn.SetReadDeadline(time.Now()); err != nil {
		c.logger.Debug("failed to interrupt receiver", "error", err)
	}
	<-c.recvDone
	c.recvCancel = nil
	c.recvDone = nil
}

func (c *Client) closePacketConn() error {
	if c.packetConn == nil {
		return nil
	}
	err := c.packetConn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
