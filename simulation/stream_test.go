package simulation

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/netsim"
	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/client"
	"github.com/mengelbart/vstream/media"
	"github.com/mengelbart/vstream/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func container(t *testing.T, frames, size int) *media.Source {
	var buf bytes.Buffer
	w := media.NewWriter(&buf)
	for i := range frames {
		require.NoError(t, w.WriteFrame(bytes.Repeat([]byte{byte(i)}, size)))
	}
	return media.NewSource(io.NopCloser(&buf))
}

func TestStreamOverSimulatedLink(t *testing.T) {
	for _, tc := range []struct {
		name string
		link link
		loss int
	}{
		{
			name: "no-loss",
			link: link{delay: 20 * time.Millisecond, bandwidth: 5_000_000, burst: 20_000, queueSize: 100_000},
			loss: 0,
		},
		{
			name: "scheduler-loss",
			link: link{delay: 50 * time.Millisecond, bandwidth: 1_250_000, burst: 5000, queueSize: 50_000},
			loss: server.DefaultLossPercent,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				logger := slog.New(slog.DiscardHandler)

				network := netsim.NewNet(tc.link.nodes(), tc.link.nodes())

				left := network.NIC(netsim.LeftLocation, netip.MustParseAddr("10.0.0.1"))
				serverConn, err := left.ListenPacket("udp", "10.0.0.1:5004")
				require.NoError(t, err)

				right := network.NIC(netsim.RightLocation, netip.MustParseAddr("10.0.0.2"))
				clientConn, err := right.ListenPacket("udp", "10.0.0.2:25000")
				require.NoError(t, err)

				var frames [][]byte
				var lock sync.Mutex
				receiver, err := client.NewReceiver(clientConn,
					client.ReceiverSink(vstream.FrameSinkFunc(func(payload []byte) {
						lock.Lock()
						defer lock.Unlock()
						frames = append(frames, payload)
					})),
					client.ReceiverLogger(logger),
				)
				require.NoError(t, err)

				var wg sync.WaitGroup
				wg.Go(func() {
					// simulated conns are read without deadlines
					buf := make([]byte, 20480)
					for {
						n, _, err := clientConn.ReadFrom(buf)
						if err != nil {
							return
						}
						receiver.HandleDatagram(buf[:n])
					}
				})

				sched, err := server.NewScheduler(
					container(t, 100, 1000),
					serverConn,
					&net.UDPAddr{IP: netip.MustParseAddr("10.0.0.2").AsSlice(), Port: 25000},
					server.SchedulerLoss(tc.loss),
					server.SchedulerLogger(logger),
				)
				require.NoError(t, err)

				start := time.Now()
				require.NoError(t, sched.Run(ctx))
				elapsed := time.Since(start)

				// give the link time to deliver packets in flight
				time.Sleep(time.Second)

				sent := sched.Stats()
				received := receiver.Stats()
				assert.Equal(t, uint64(100), sent.Sent+sent.Dropped)
				assert.Equal(t, sent.Sent, received.Received)
				assert.Equal(t, received.Received, received.Admitted)
				assert.Zero(t, received.Discarded)
				if tc.loss == 0 {
					assert.Zero(t, received.LossEvents)
				}
				lock.Lock()
				assert.Len(t, frames, int(received.Admitted))
				lock.Unlock()

				// 101 pacing waits of at least 37 ms each
				assert.GreaterOrEqual(t, elapsed, 101*37*time.Millisecond)

				serverConn.Close()
				clientConn.Close()
				network.Close()
				wg.Wait()
				synctest.Wait()
			})
		})
	}
}
