package rtp

import (
	"fmt"
	"time"

	"github.com/mengelbart/vstream"
	"github.com/pion/rtp"
)

const (
	// HeaderSize is the size of the fixed data-plane header.
	HeaderSize = 12

	// Version is the only header version this package emits.
	Version = 2

	// MaxPacketSize is the receive buffer size for a single datagram.
	MaxPacketSize = 20480
)

// Packet is a decoded data-plane packet. It is immutable once constructed; the
// payload returned by Decode aliases the decoded buffer.
type Packet struct {
	header  rtp.Header
	payload []byte
}

// NewPacket builds a packet with version 2, no padding, no extension, no
// contributing sources and the marker bit cleared. The timestamp is the
// current Unix time truncated to 32 bits.
func NewPacket(payloadType uint8, sequenceNumber uint16, ssrc uint32, payload []byte) *Packet {
	return newPacketAt(time.Now(), payloadType, sequenceNumber, ssrc, payload)
}

func newPacketAt(now time.Time, payloadType uint8, sequenceNumber uint16, ssrc uint32, payload []byte) *Packet {
	return &Packet{
		header: rtp.Header{
			Version:        Version,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    payloadType & 0x7f,
			SequenceNumber: sequenceNumber,
			Timestamp:      uint32(now.Unix()),
			SSRC:           ssrc,
		},
		payload: payload,
	}
}

// Encode returns the wire representation of a new packet.
func Encode(payloadType uint8, sequenceNumber uint16, ssrc uint32, payload []byte) ([]byte, error) {
	return NewPacket(payloadType, sequenceNumber, ssrc, payload).Marshal()
}

// Decode parses buf. It fails with vstream.ErrMalformedPacket if buf is
// shorter than HeaderSize or the header cannot be parsed.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %v < %v bytes", vstream.ErrMalformedPacket, len(buf), HeaderSize)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", vstream.ErrMalformedPacket, err)
	}
	return &Packet{
		header:  pkt.Header,
		payload: pkt.Payload,
	}, nil
}

func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.header.MarshalSize()+len(p.payload))
	n, err := p.header.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	copy(buf[n:], p.payload)
	return buf[:n+len(p.payload)], nil
}

func (p *Packet) Version() uint8         { return p.header.Version }
func (p *Packet) Padding() bool          { return p.header.Padding }
func (p *Packet) Extension() bool        { return p.header.Extension }
func (p *Packet) CSRCCount() int         { return len(p.header.CSRC) }
func (p *Packet) Marker() bool           { return p.header.Marker }
func (p *Packet) PayloadType() uint8     { return p.header.PayloadType }
func (p *Packet) SequenceNumber() uint16 { return p.header.SequenceNumber }
func (p *Packet) Timestamp() uint32      { return p.header.Timestamp }
func (p *Packet) SSRC() uint32           { return p.header.SSRC }
func (p *Packet) Payload() []byte        { return p.payload }

// Header returns a copy of the underlying RTP header.
func (p *Packet) Header() rtp.Header {
	h := p.header
	h.CSRC = append([]uint32(nil), p.header.CSRC...)
	return h
}
