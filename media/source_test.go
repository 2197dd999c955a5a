package media

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/mengelbart/vstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(data string) *Source {
	return NewSource(io.NopCloser(strings.NewReader(data)))
}

func TestSourceFrames(t *testing.T) {
	src := newTestSource("00003abc00000" + "00005hello")

	f, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f.Index)
	assert.Equal(t, []byte("abc"), f.Payload)

	f, err = src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f.Index)
	assert.Empty(t, f.Payload)

	f, err = src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), f.Index)
	assert.Equal(t, []byte("hello"), f.Payload)

	_, err = src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, uint32(3), src.Index())
}

func TestSourceZeroLengthFrame(t *testing.T) {
	src := newTestSource("00000")

	f, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f.Index)
	assert.Len(t, f.Payload, 0)

	_, err = src.NextFrame()
	assert.Equal(t, io.EOF, err)
}

func TestSourceCorrupt(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{name: "short-payload", data: "00010abcde"},
		{name: "short-prefix", data: "000"},
		{name: "non-decimal-prefix", data: "00x10abcdefghij"},
		{name: "second-frame-truncated", data: "00001a00004ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newTestSource(tc.data)
			var err error
			for err == nil {
				_, err = src.NextFrame()
			}
			assert.ErrorIs(t, err, vstream.ErrCorruptStream)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestOpenNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mjpeg"))
	assert.ErrorIs(t, err, vstream.ErrResourceNotFound)
}

func TestOpenFS(t *testing.T) {
	fsys := fstest.MapFS{
		"movie.mjpeg":     {Data: []byte("00002hi")},
		"videos/a.mjpeg":  {Data: []byte("00000")},
		"videos/b/.keep":  {Data: nil},
		"videos/b/c.jpeg": {Data: []byte("x")},
	}

	src, err := OpenFS(fsys, "/movie.mjpeg")
	require.NoError(t, err)
	defer src.Close()
	f, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Payload)
	assert.Equal(t, "movie.mjpeg", src.Name())

	_, err = OpenFS(fsys, "nope.mjpeg")
	assert.ErrorIs(t, err, vstream.ErrResourceNotFound)

	_, err = OpenFS(fsys, "../movie.mjpeg")
	assert.ErrorIs(t, err, vstream.ErrResourceNotFound)

	_, err = OpenFS(fsys, "videos/b")
	assert.ErrorIs(t, err, vstream.ErrResourceNotFound)
}

func TestWriterRoundTrip(t *testing.T) {
	frames := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xff}, 1234)}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}
	assert.True(t, strings.HasPrefix(buf.String(), "00005first00000"))

	src := NewSource(io.NopCloser(&buf))
	for i, want := range frames {
		f, err := src.NextFrame()
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), f.Index)
		assert.Equal(t, want, f.Payload)
	}
	_, err := src.NextFrame()
	assert.Equal(t, io.EOF, err)
}

func TestWriterFrameTooLarge(t *testing.T) {
	w := NewWriter(io.Discard)
	err := w.WriteFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, vstream.ErrFrameTooLarge)
}

func TestRecorderAndSnapshot(t *testing.T) {
	dir := t.TempDir()

	rec, err := Create(filepath.Join(dir, "out.mjpeg"))
	require.NoError(t, err)
	rec.WriteFrame([]byte("one"))
	rec.WriteFrame([]byte("two"))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(filepath.Join(dir, "out.mjpeg"))
	require.NoError(t, err)
	assert.Equal(t, "00003one00003two", string(data))

	snap := NewSnapshotSink(filepath.Join(dir, "cache.jpg"))
	snap.WriteFrame([]byte("first"))
	snap.WriteFrame([]byte("second"))
	data, err = os.ReadFile(filepath.Join(dir, "cache.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
