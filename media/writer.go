package media

import (
	"fmt"
	"io"

	"github.com/mengelbart/vstream"
)

// Writer writes frames in the length-prefixed container format.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %v > %v", vstream.ErrFrameTooLarge, len(payload), MaxFrameSize)
	}
	if _, err := fmt.Fprintf(w.w, "%05d", len(payload)); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}
