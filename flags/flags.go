// Package flags implements command-line flags for vstream.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/vstream"
)

type FlagName string

// flag keys
const (
	LocalAddrFlag  FlagName = "local"
	RemoteAddrFlag FlagName = "remote"
	HTTPAddrFlag   FlagName = "http-address"

	RTSPPortFlag FlagName = "rtsp-port"
	RTPPortFlag  FlagName = "rtp-port"

	MediaRootFlag FlagName = "media-root"
	ResourceFlag  FlagName = "resource"
	CodecFlag     FlagName = "codec"

	SinkTypeFlag     FlagName = "sink-type"
	SinkLocationFlag FlagName = "sink-location"

	TraceRTPRecvFlag FlagName = "trace-rtp-recv"
	TraceRTPSendFlag FlagName = "trace-rtp-send"

	LossFlag        FlagName = "loss"
	IntervalFlag    FlagName = "interval"
	RateLimitFlag   FlagName = "rate-limit"
	RecvTimeoutFlag FlagName = "recv-timeout"
	DurationFlag    FlagName = "duration"
)

// Sink types
const (
	SinkTypeRecord uint = iota
	SinkTypeSnapshot
	SinkTypeDiscard
)

// Flag vars
var (
	// LocalAddr
	LocalAddr = "127.0.0.1"

	// RemoteAddr
	RemoteAddr = "127.0.0.1"

	// HTTP Server, empty disables the status API
	HTTPAddr = ""

	// Control port of the server
	RTSPPort = uint(8554)

	// RTP Receive Port
	RTPPort = uint(25000)

	MediaRoot = "."
	Resource  = "movie.Mjpeg"
	Codec     = vstream.MJPEG.String()

	SinkType     = SinkTypeSnapshot
	SinkLocation = ""

	TraceRTPRecv = false
	TraceRTPSend = false

	// Loss is the percentage of frames dropped by the server
	Loss = uint(5)

	Interval = 50 * time.Millisecond

	// RateLimit is the maximum send rate in bits per second, 0 disables it
	RateLimit = uint(0)

	RecvTimeout = 500 * time.Millisecond

	// Duration of playback, 0 plays until interrupted
	Duration = time.Duration(0)
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	// Address related flags
	LocalAddrFlag:  stringVar(&LocalAddr, LocalAddrFlag, &LocalAddr, "Address for local servers"),
	RemoteAddrFlag: stringVar(&RemoteAddr, RemoteAddrFlag, &RemoteAddr, "Address of the remote server"),
	HTTPAddrFlag:   stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "HTTP status server address, empty disables the status server"),

	RTSPPortFlag: uintVar(&RTSPPort, RTSPPortFlag, &RTSPPort, "TCP port of the control server"),
	RTPPortFlag:  uintVar(&RTPPort, RTPPortFlag, &RTPPort, "UDP port number for the incoming RTP stream"),

	// Media flags
	MediaRootFlag: stringVar(&MediaRoot, MediaRootFlag, &MediaRoot, "Directory served resources are resolved in"),
	ResourceFlag:  stringVar(&Resource, ResourceFlag, &Resource, "Name of the resource to play"),
	CodecFlag:     stringVar(&Codec, CodecFlag, &Codec, "Codec of the media files (MJPEG)"),

	// IO Flags
	SinkTypeFlag:     uintVar(&SinkType, SinkTypeFlag, &SinkType, "Sink type (0: record to container file, 1: latest frame snapshot file, 2: discard)"),
	SinkLocationFlag: stringVar(&SinkLocation, SinkLocationFlag, &SinkLocation, "Location for file sinks (if <sink-type> is 0 or 1)"),

	// tracing flags
	TraceRTPRecvFlag: boolVar(&TraceRTPRecv, TraceRTPRecvFlag, &TraceRTPRecv, "Log incoming RTP packets"),
	TraceRTPSendFlag: boolVar(&TraceRTPSend, TraceRTPSendFlag, &TraceRTPSend, "Log outgoing RTP packets"),

	// Scheduling flags
	LossFlag:        uintVar(&Loss, LossFlag, &Loss, "Percentage of frames dropped before sending (0-100)"),
	IntervalFlag:    durationVar(&Interval, IntervalFlag, &Interval, "Base interval between frames"),
	RateLimitFlag:   uintVar(&RateLimit, RateLimitFlag, &RateLimit, "Maximum send rate in bits per second, 0 disables the limit"),
	RecvTimeoutFlag: durationVar(&RecvTimeout, RecvTimeoutFlag, &RecvTimeout, "Read timeout of the RTP receiver"),
	DurationFlag:    durationVar(&Duration, DurationFlag, &Duration, "Playback duration, 0 plays until interrupted"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}
