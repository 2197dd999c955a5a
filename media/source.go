package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mengelbart/vstream"
)

const (
	// PrefixLength is the width of the ASCII decimal length prefix of every
	// container record.
	PrefixLength = 5

	// MaxFrameSize is the largest payload a record can announce.
	MaxFrameSize = 99_999
)

// Frame is a single container record.
type Frame struct {
	// Index is assigned at read time, starting at 1.
	Index   uint32
	Payload []byte
}

// Source reads frames from a length-prefixed container.
type Source struct {
	name   string
	reader *bufio.Reader
	closer io.Closer
	index  uint32
}

func NewSource(rc io.ReadCloser) *Source {
	return &Source{
		reader: bufio.NewReader(rc),
		closer: rc,
	}
}

// Open opens the container at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vstream.ErrResourceNotFound, err)
	}
	s := NewSource(f)
	s.name = path
	return s, nil
}

// OpenFS opens the container name inside fsys. A leading slash is ignored so
// that request paths like "/movie.mjpeg" resolve relative to fsys.
func OpenFS(fsys fs.FS, name string) (*Source, error) {
	name = strings.TrimPrefix(name, "/")
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: invalid path %q", vstream.ErrResourceNotFound, name)
	}
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vstream.ErrResourceNotFound, err)
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %q is a directory", vstream.ErrResourceNotFound, name)
	}
	s := NewSource(f)
	s.name = name
	return s, nil
}

// NextFrame returns the next frame of the container. It returns io.EOF if the
// container ends at a record boundary and an error wrapping
// vstream.ErrCorruptStream if a record is truncated or its prefix is invalid.
func (s *Source) NextFrame() (Frame, error) {
	var prefix [PrefixLength]byte
	n, err := io.ReadFull(s.reader, prefix[:])
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: truncated length prefix after %v bytes", vstream.ErrCorruptStream, n)
		}
		return Frame{}, err
	}
	length, err := parsePrefix(prefix)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, length)
	n, err = io.ReadFull(s.reader, payload)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: frame %v announced %v bytes, got %v", vstream.ErrCorruptStream, s.index+1, length, n)
		}
		return Frame{}, err
	}
	s.index++
	return Frame{
		Index:   s.index,
		Payload: payload,
	}, nil
}

// Index returns the index of the last frame returned by NextFrame.
func (s *Source) Index() uint32 {
	return s.index
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Close() error {
	return s.closer.Close()
}

func parsePrefix(prefix [PrefixLength]byte) (int, error) {
	length := 0
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: invalid length prefix %q", vstream.ErrCorruptStream, prefix[:])
		}
		length = length*10 + int(c-'0')
	}
	return length, nil
}
