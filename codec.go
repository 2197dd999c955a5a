package vstream

import "fmt"

// Codec identifies the media carried in the data-plane payload.
type Codec int

const (
	MJPEG Codec = iota
)

// PayloadType returns the static RTP payload type of the codec.
func (c Codec) PayloadType() uint8 {
	switch c {
	case MJPEG:
		return 26
	default:
		return 0
	}
}

func NewCodec(s string) (Codec, error) {
	switch s {
	case "MJPEG", "JPEG":
		return MJPEG, nil
	}
	return MJPEG, fmt.Errorf("unknown codec: %s", s)
}

func (c Codec) String() string {
	switch c {
	case MJPEG:
		return "MJPEG"
	}
	return "unknown"
}
