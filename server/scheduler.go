package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/internal/logging"
	"github.com/mengelbart/vstream/media"
	"github.com/mengelbart/vstream/rtp"
	"github.com/pion/randutil"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval      = 50 * time.Millisecond
	DefaultJitterMin     = -13 * time.Millisecond
	DefaultJitterMax     = 5 * time.Millisecond
	DefaultPostSendDelay = 20 * time.Millisecond
	DefaultLossPercent   = 5
)

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	NextFrame() (media.Frame, error)
}

// Random is the source of jitter and loss samples. Intn returns a value in
// [0, n).
type Random interface {
	Intn(n int) int
}

type SchedulerOption func(*Scheduler) error

// SchedulerInterval sets the base wait between frames.
func SchedulerInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) error {
		if d <= 0 {
			return fmt.Errorf("invalid interval: %v", d)
		}
		s.interval = d
		return nil
	}
}

// SchedulerJitter sets the inclusive range jitter is drawn from, in
// millisecond steps.
func SchedulerJitter(minJitter, maxJitter time.Duration) SchedulerOption {
	return func(s *Scheduler) error {
		if minJitter > maxJitter {
			return fmt.Errorf("invalid jitter range: [%v, %v]", minJitter, maxJitter)
		}
		s.jitterMin = minJitter
		s.jitterMax = maxJitter
		return nil
	}
}

// SchedulerLoss sets the percentage of frames that are dropped instead of
// sent.
func SchedulerLoss(percent int) SchedulerOption {
	return func(s *Scheduler) error {
		if percent < 0 || percent > 100 {
			return fmt.Errorf("invalid loss percentage: %v", percent)
		}
		s.lossPercent = percent
		return nil
	}
}

func SchedulerPostSendDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) error {
		s.postSendDelay = d
		return nil
	}
}

func SchedulerCodec(c vstream.Codec) SchedulerOption {
	return func(s *Scheduler) error {
		s.payloadType = c.PayloadType()
		return nil
	}
}

func SchedulerSSRC(ssrc uint32) SchedulerOption {
	return func(s *Scheduler) error {
		s.ssrc = ssrc
		return nil
	}
}

func SchedulerRandom(r Random) SchedulerOption {
	return func(s *Scheduler) error {
		s.random = r
		return nil
	}
}

// SchedulerRateLimit caps the data-plane send rate in bits per second. Frames
// wait for their byte budget before they are sent.
func SchedulerRateLimit(bps uint) SchedulerOption {
	return func(s *Scheduler) error {
		if bps == 0 {
			s.limiter = nil
			return nil
		}
		s.limiter = rate.NewLimiter(rate.Limit(float64(bps)/8.0), rtp.HeaderSize+media.MaxFrameSize)
		return nil
	}
}

func SchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

// SchedulerTracePackets logs every sent packet header.
func SchedulerTracePackets(enable bool) SchedulerOption {
	return func(s *Scheduler) error {
		s.trace = enable
		return nil
	}
}

// SchedulerOnSent registers a callback invoked with the datagram size of
// every sent frame.
func SchedulerOnSent(f func(size int)) SchedulerOption {
	return func(s *Scheduler) error {
		s.onSent = f
		return nil
	}
}

// SchedulerOnDropped registers a callback invoked for every frame dropped by
// simulated loss.
func SchedulerOnDropped(f func()) SchedulerOption {
	return func(s *Scheduler) error {
		s.onDropped = f
		return nil
	}
}

// Scheduler paces frames from a FrameSource onto a datagram connection,
// adding jitter and simulated loss.
type Scheduler struct {
	source FrameSource
	conn   net.PacketConn
	dst    net.Addr

	interval      time.Duration
	jitterMin     time.Duration
	jitterMax     time.Duration
	postSendDelay time.Duration
	lossPercent   int
	payloadType   uint8
	ssrc          uint32
	random        Random
	limiter       *rate.Limiter

	logger       *slog.Logger
	trace        bool
	packetLogger *logging.PacketLogger
	onSent       func(int)
	onDropped    func()

	sent    atomic.Uint64
	dropped atomic.Uint64
	lastSeq atomic.Uint32
}

// SchedulerStats are the counters of one scheduler run.
type SchedulerStats struct {
	Sent               uint64
	Dropped            uint64
	LastSequenceNumber uint16
}

func NewScheduler(source FrameSource, conn net.PacketConn, dst net.Addr, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		source:        source,
		conn:          conn,
		dst:           dst,
		interval:      DefaultInterval,
		jitterMin:     DefaultJitterMin,
		jitterMax:     DefaultJitterMax,
		postSendDelay: DefaultPostSendDelay,
		lossPercent:   DefaultLossPercent,
		payloadType:   vstream.MJPEG.PayloadType(),
		ssrc:          0,
		random:        nil,
		limiter:       nil,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.random == nil {
		s.random = randutil.NewMathRandomGenerator()
	}
	if s.trace {
		s.packetLogger = logging.NewPacketLogger("sender", s.logger)
	}
	return s, nil
}

// Run sends frames until the source is exhausted or ctx is cancelled. The
// context is checked once per frame after the pacing wait, so cancellation
// takes effect within one interval. Run returns nil on cancellation and at the
// end of the stream.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if !sleep(ctx, s.interval+s.jitter()) {
			s.logger.Debug("scheduler cancelled", "sent", s.sent.Load(), "dropped", s.dropped.Load())
			return nil
		}

		frame, err := s.source.NextFrame()
		if err == io.EOF {
			s.logger.Info("end of stream", "sent", s.sent.Load(), "dropped", s.dropped.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if s.lose() {
			s.dropped.Add(1)
			if s.onDropped != nil {
				s.onDropped()
			}
			s.logger.Debug("dropping frame", "frame-index", frame.Index)
			continue
		}

		seq := uint16(frame.Index)
		pkt := rtp.NewPacket(s.payloadType, seq, s.ssrc, frame.Payload)
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if s.limiter != nil {
			if err = s.limiter.WaitN(ctx, len(buf)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if _, err = s.conn.WriteTo(buf, s.dst); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to send frame %v: %w", frame.Index, err)
		}
		s.sent.Add(1)
		s.lastSeq.Store(uint32(seq))
		if s.onSent != nil {
			s.onSent(len(buf))
		}
		if s.packetLogger != nil {
			h := pkt.Header()
			s.packetLogger.LogRTPPacket(&h, pkt.Payload())
		}

		// cancellation is observed by the pacing wait of the next iteration
		sleep(ctx, s.postSendDelay)
	}
}

func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Sent:               s.sent.Load(),
		Dropped:            s.dropped.Load(),
		LastSequenceNumber: uint16(s.lastSeq.Load()),
	}
}

func (s *Scheduler) jitter() time.Duration {
	steps := int((s.jitterMax - s.jitterMin) / time.Millisecond)
	return s.jitterMin + time.Duration(s.random.Intn(steps+1))*time.Millisecond
}

// lose draws a value in [1, 100] and reports whether the frame falls into the
// loss fraction.
func (s *Scheduler) lose() bool {
	if s.lossPercent == 0 {
		return false
	}
	return s.random.Intn(100)+1 <= s.lossPercent
}

// sleep waits for d and reports whether ctx is still live afterwards.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}
