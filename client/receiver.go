package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/internal/logging"
	"github.com/mengelbart/vstream/rtp"
)

const DefaultReceiveTimeout = 500 * time.Millisecond

type ReceiverOption func(*Receiver) error

func ReceiverSink(sink vstream.FrameSink) ReceiverOption {
	return func(r *Receiver) error {
		r.sink = sink
		return nil
	}
}

// ReceiverTimeout bounds every read so that cancellation is observed.
func ReceiverTimeout(d time.Duration) ReceiverOption {
	return func(r *Receiver) error {
		if d <= 0 {
			return fmt.Errorf("invalid receive timeout: %v", d)
		}
		r.timeout = d
		return nil
	}
}

func ReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) error {
		r.logger = logger
		return nil
	}
}

func ReceiverTracePackets(enable bool) ReceiverOption {
	return func(r *Receiver) error {
		r.trace = enable
		return nil
	}
}

// Receiver reads data-plane datagrams and forwards the payload of every
// frame that is newer than all frames admitted before it. Late frames are
// discarded.
type Receiver struct {
	conn         net.PacketConn
	sink         vstream.FrameSink
	timeout      time.Duration
	logger       *slog.Logger
	trace        bool
	packetLogger *logging.PacketLogger

	seq  logging.Unwrapper
	last int64

	received   atomic.Uint64
	admitted   atomic.Uint64
	discarded  atomic.Uint64
	lossEvents atomic.Uint64
	malformed  atomic.Uint64
}

// ReceiverStats are the counters of a Receiver. LossEvents counts every
// datagram whose sequence number did not directly follow the last admitted
// one, including late datagrams.
type ReceiverStats struct {
	Received   uint64 `json:"received"`
	Admitted   uint64 `json:"admitted"`
	Discarded  uint64 `json:"discarded"`
	LossEvents uint64 `json:"loss-events"`
	Malformed  uint64 `json:"malformed"`
}

func NewReceiver(conn net.PacketConn, opts ...ReceiverOption) (*Receiver, error) {
	r := &Receiver{
		conn:    conn,
		sink:    vstream.Discard,
		timeout: DefaultReceiveTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.trace {
		r.packetLogger = logging.NewPacketLogger("receiver", r.logger)
	}
	return r, nil
}

// Run reads datagrams until ctx is cancelled or the connection is closed.
// Run may be called again after it returned; admission continues from the
// last admitted frame.
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, rtp.MaxPacketSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read datagram: %w", err)
		}
		r.HandleDatagram(buf[:n])
	}
}

// HandleDatagram processes a single datagram and reports whether its frame
// was admitted. It must not be called concurrently with Run.
func (r *Receiver) HandleDatagram(buf []byte) bool {
	r.received.Add(1)
	pkt, err := rtp.Decode(buf)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Debug("dropping malformed datagram", "length", len(buf), "error", err)
		return false
	}
	if r.packetLogger != nil {
		h := pkt.Header()
		r.packetLogger.LogRTPPacket(&h, pkt.Payload())
	}

	seq := r.seq.Unwrap(pkt.SequenceNumber())
	if seq != r.last+1 {
		r.lossEvents.Add(1)
		r.logger.Debug("sequence gap", "expected", r.last+1, "sequence-number", seq)
	}
	if seq <= r.last {
		r.discarded.Add(1)
		return false
	}
	r.last = seq
	r.admitted.Add(1)
	r.sink.WriteFrame(bytes.Clone(pkt.Payload()))
	return true
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received:   r.received.Load(),
		Admitted:   r.admitted.Load(),
		Discarded:  r.discarded.Load(),
		LossEvents: r.lossEvents.Load(),
		Malformed:  r.malformed.Load(),
	}
}
