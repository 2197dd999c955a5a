package media

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Recorder is a vstream.FrameSink that appends every frame to a container.
type Recorder struct {
	lock   sync.Mutex
	writer *Writer
	closer io.Closer
	logger *slog.Logger
}

func NewRecorder(wc io.WriteCloser) *Recorder {
	return &Recorder{
		writer: NewWriter(wc),
		closer: wc,
		logger: slog.Default(),
	}
}

// Create creates (or truncates) the container at path and records into it.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f), nil
}

func (r *Recorder) WriteFrame(payload []byte) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.writer.WriteFrame(payload); err != nil {
		r.logger.Error("failed to record frame", "error", err, "payload-length", len(payload))
	}
}

func (r *Recorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.closer.Close()
}

// SnapshotSink keeps only the latest frame in a single file. Each frame is
// written to a temporary file in the same directory and renamed over the
// target, so readers never observe a partially written image.
type SnapshotSink struct {
	path   string
	logger *slog.Logger
}

func NewSnapshotSink(path string) *SnapshotSink {
	return &SnapshotSink{
		path:   path,
		logger: slog.Default(),
	}
}

func (s *SnapshotSink) WriteFrame(payload []byte) {
	if err := s.write(payload); err != nil {
		s.logger.Error("failed to write snapshot", "error", err, "path", s.path)
	}
}

func (s *SnapshotSink) write(payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
