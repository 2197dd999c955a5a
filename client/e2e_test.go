package client_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/mengelbart/vstream/client"
	"github.com/mengelbart/vstream/media"
	"github.com/mengelbart/vstream/rtsp"
	"github.com/mengelbart/vstream/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexSink records the frame index encoded in every payload.
type indexSink struct {
	lock    sync.Mutex
	indices []int
}

func (s *indexSink) WriteFrame(payload []byte) {
	i, err := strconv.Atoi(string(payload))
	if err != nil {
		i = -1
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.indices = append(s.indices, i)
}

func (s *indexSink) Indices() []int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]int(nil), s.indices...)
}

func mediaFS(t *testing.T, frames int) fstest.MapFS {
	var buf bytes.Buffer
	w := media.NewWriter(&buf)
	for i := 1; i <= frames; i++ {
		require.NoError(t, w.WriteFrame(fmt.Appendf(nil, "%06d", i)))
	}
	return fstest.MapFS{
		"movie.mjpeg": &fstest.MapFile{Data: buf.Bytes()},
	}
}

func TestEndToEnd(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	srv, err := server.New(
		server.WithMediaFS(mediaFS(t, 10_000)),
		server.WithLogger(logger),
		server.WithScheduling(
			server.SchedulerLoss(0),
			server.SchedulerInterval(5*time.Millisecond),
			server.SchedulerJitter(0, 0),
			server.SchedulerPostSendDelay(0),
		),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, ln)
	}()

	sink := &indexSink{}
	c, err := client.Dial(ctx, ln.Addr().String(), "movie.mjpeg",
		client.WithSink(sink),
		client.WithReceiveTimeout(20*time.Millisecond),
		client.WithLogger(logger),
	)
	require.NoError(t, err)

	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.Play(ctx))
	require.Eventually(t, func() bool {
		return len(sink.Indices()) >= 10
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Pause(ctx))
	paused := len(sink.Indices())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.Indices(), paused, "frames arrived while paused")

	require.NoError(t, c.Play(ctx))
	require.Eventually(t, func() bool {
		return len(sink.Indices()) >= paused+10
	}, 5*time.Second, 5*time.Millisecond)

	require.Len(t, srv.Sessions(), 1)
	info := srv.Sessions()[0]
	assert.Equal(t, "PLAYING", info.State)
	assert.Equal(t, 4, info.CSeq)

	require.NoError(t, c.Teardown(ctx))
	assert.Equal(t, rtsp.Init, c.State())
	<-c.Done()
	assert.NoError(t, c.Err())

	indices := sink.Indices()
	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1], "admitted frames must be strictly increasing")
	}
	stats := c.Stats()
	assert.Equal(t, uint64(len(indices)), stats.Admitted)
	assert.Zero(t, stats.Malformed)

	require.Eventually(t, func() bool {
		return len(srv.Sessions()) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-served)
}

func TestEndToEndNotFound(t *testing.T) {
	srv, err := server.New(
		server.WithMediaFS(mediaFS(t, 1)),
		server.WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, ln)
	}()

	c, err := client.Dial(ctx, ln.Addr().String(), "missing.mjpeg",
		client.WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)
	assert.Error(t, c.Setup(ctx))
	assert.Equal(t, rtsp.Init, c.State())
	require.NoError(t, c.Close())

	cancel()
	assert.NoError(t, <-served)
}
