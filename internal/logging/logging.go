package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/rtp"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

func Configure(format Format, level slog.Level, writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		AddSource:   false,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		slog.SetDefault(slog.New(slog.NewJSONHandler(writer, ho)))
	case TextFormat:
		slog.SetDefault(slog.New(slog.NewTextHandler(writer, ho)))
	default:
		panic(fmt.Sprintf("unexpected logging.format: %#v", format))
	}
}

// PacketLogger traces data-plane packets.
type PacketLogger struct {
	logger *slog.Logger
	seq    *Unwrapper
}

func NewPacketLogger(vantagePoint string, logger *slog.Logger) *PacketLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PacketLogger{
		logger: logger.With("vantage-point", vantagePoint).WithGroup("rtp-packet"),
		seq:    &Unwrapper{},
	}
}

func (l *PacketLogger) LogRTPPacket(header *rtp.Header, payload []byte) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Info(
		"rtp packet",
		"version", header.Version,
		"padding", header.Padding,
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+len(payload),
	)
}
