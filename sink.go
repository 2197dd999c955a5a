package vstream

// FrameSink consumes admitted frames. client.Receiver hands every sink a fresh
// copy of the payload, so sinks may retain it.
type FrameSink interface {
	WriteFrame(payload []byte)
}

type FrameSinkFunc func(payload []byte)

func (f FrameSinkFunc) WriteFrame(payload []byte) {
	f(payload)
}

// Discard is a FrameSink that drops every frame.
var Discard FrameSink = FrameSinkFunc(func([]byte) {})
