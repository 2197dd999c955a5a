package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mengelbart/vstream/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameCollector struct {
	lock   sync.Mutex
	frames [][]byte
}

func (c *frameCollector) WriteFrame(payload []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.frames = append(c.frames, payload)
}

func (c *frameCollector) Frames() [][]byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([][]byte(nil), c.frames...)
}

func datagram(t *testing.T, seq uint16) []byte {
	t.Helper()
	buf, err := rtp.Encode(26, seq, 0, []byte{byte(seq >> 8), byte(seq)})
	require.NoError(t, err)
	return buf
}

func TestReceiverFreshestWins(t *testing.T) {
	sink := &frameCollector{}
	r, err := NewReceiver(nil, ReceiverSink(sink))
	require.NoError(t, err)

	var admitted []uint16
	for _, seq := range []uint16{5, 3, 7, 6, 8} {
		if r.HandleDatagram(datagram(t, seq)) {
			admitted = append(admitted, seq)
		}
	}
	assert.Equal(t, []uint16{5, 7, 8}, admitted)
	assert.Equal(t, [][]byte{{0, 5}, {0, 7}, {0, 8}}, sink.Frames())
	assert.Equal(t, ReceiverStats{
		Received:   5,
		Admitted:   3,
		Discarded:  2,
		LossEvents: 4,
		Malformed:  0,
	}, r.Stats())
}

func TestReceiverInOrder(t *testing.T) {
	r, err := NewReceiver(nil)
	require.NoError(t, err)
	for seq := uint16(1); seq <= 10; seq++ {
		assert.True(t, r.HandleDatagram(datagram(t, seq)))
	}
	stats := r.Stats()
	assert.Equal(t, uint64(10), stats.Admitted)
	assert.Zero(t, stats.LossEvents)
	assert.Zero(t, stats.Discarded)
}

func TestReceiverDuplicate(t *testing.T) {
	r, err := NewReceiver(nil)
	require.NoError(t, err)
	assert.True(t, r.HandleDatagram(datagram(t, 1)))
	assert.False(t, r.HandleDatagram(datagram(t, 1)))
	assert.True(t, r.HandleDatagram(datagram(t, 2)))
	assert.Equal(t, uint64(1), r.Stats().Discarded)
}

func TestReceiverWraparound(t *testing.T) {
	sink := &frameCollector{}
	r, err := NewReceiver(nil, ReceiverSink(sink))
	require.NoError(t, err)
	for _, seq := range []uint16{65534, 65535, 0, 1} {
		assert.True(t, r.HandleDatagram(datagram(t, seq)), "seq %v", seq)
	}
	// a frame from before the wrap is late
	assert.False(t, r.HandleDatagram(datagram(t, 65535)))
	assert.Len(t, sink.Frames(), 4)
	assert.Equal(t, uint64(2), r.Stats().LossEvents)
}

func TestReceiverMalformed(t *testing.T) {
	sink := &frameCollector{}
	r, err := NewReceiver(nil, ReceiverSink(sink))
	require.NoError(t, err)

	assert.False(t, r.HandleDatagram([]byte{0x80, 26, 0, 1, 0}))
	assert.False(t, r.HandleDatagram(nil))
	assert.Empty(t, sink.Frames())
	assert.Equal(t, ReceiverStats{Received: 2, Malformed: 2}, r.Stats())

	assert.True(t, r.HandleDatagram(datagram(t, 1)))
}

func TestReceiverCopiesPayload(t *testing.T) {
	sink := &frameCollector{}
	r, err := NewReceiver(nil, ReceiverSink(sink))
	require.NoError(t, err)

	buf := datagram(t, 1)
	require.True(t, r.HandleDatagram(buf))
	for i := range buf {
		buf[i] = 0xff
	}
	assert.Equal(t, [][]byte{{0, 1}}, sink.Frames())
}

func TestReceiverRun(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	sink := &frameCollector{}
	r, err := NewReceiver(conn, ReceiverSink(sink), ReceiverTimeout(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	sender, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()
	for seq := uint16(1); seq <= 3; seq++ {
		_, err = sender.Write(datagram(t, seq))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(sink.Frames()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	// idle reads time out without ending the loop
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("receiver returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receiver did not observe cancellation")
	}
}

func TestReceiverRunClosedConn(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	r, err := NewReceiver(conn)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background())
	}()
	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop on closed connection")
	}
}

func TestReceiverTimeoutValidation(t *testing.T) {
	_, err := NewReceiver(nil, ReceiverTimeout(0))
	assert.Error(t, err)
}
