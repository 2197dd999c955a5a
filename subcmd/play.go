package subcmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/client"
	"github.com/mengelbart/vstream/cmdmain"
	"github.com/mengelbart/vstream/flags"
	"github.com/mengelbart/vstream/media"
)

const (
	defaultRecordLocation   = "recording.mjpeg"
	defaultSnapshotLocation = "cache.jpg"

	teardownTimeout = 2 * time.Second
)

func init() {
	cmdmain.RegisterSubCmd("play", func() cmdmain.SubCmd { return new(Play) })
}

type Play struct{}

// Help implements cmdmain.SubCmd.
func (p *Play) Help() string {
	return "Play a resource from a streaming server"
}

// Exec implements cmdmain.SubCmd.
func (p *Play) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)

	flags.RegisterInto(fs, []flags.FlagName{
		flags.RemoteAddrFlag,
		flags.RTSPPortFlag,
		flags.RTPPortFlag,
		flags.ResourceFlag,
		flags.SinkTypeFlag,
		flags.SinkLocationFlag,
		flags.RecvTimeoutFlag,
		flags.DurationFlag,
		flags.TraceRTPRecvFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Play a resource from a streaming server

Usage:
	%s play [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if flags.RTPPort > 65535 {
		fmt.Fprintf(os.Stderr, "Invalid %v value, must be a valid UDP port.\n", flags.RTPPortFlag)
		fs.Usage()
		os.Exit(1)
	}

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	sink, closer, err := newSink(flags.SinkType, flags.SinkLocation)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(flags.RemoteAddr, strconv.FormatUint(uint64(flags.RTSPPort), 10))
	c, err := client.Dial(ctx, addr, flags.Resource,
		client.WithRTPPort(int(flags.RTPPort)),
		client.WithSink(sink),
		client.WithReceiveTimeout(flags.RecvTimeout),
		client.WithTracePackets(flags.TraceRTPRecv),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if err = c.Setup(ctx); err != nil {
		return err
	}
	if err = c.Play(ctx); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if flags.Duration > 0 {
		timer := time.NewTimer(flags.Duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	case <-c.Done():
		return c.Err()
	}

	teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	err = c.Teardown(teardownCtx)

	stats := c.Stats()
	slog.Info(
		"playback finished",
		"received", stats.Received,
		"admitted", stats.Admitted,
		"discarded", stats.Discarded,
		"loss-events", stats.LossEvents,
		"malformed", stats.Malformed,
	)
	return err
}

// newSink creates the frame sink selected by sinkType. The returned closer is
// nil for sinks that hold no resources.
func newSink(sinkType uint, location string) (vstream.FrameSink, io.Closer, error) {
	switch sinkType {
	case flags.SinkTypeRecord:
		if location == "" {
			location = defaultRecordLocation
		}
		r, err := media.Create(location)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case flags.SinkTypeSnapshot:
		if location == "" {
			location = defaultSnapshotLocation
		}
		return media.NewSnapshotSink(location), nil, nil
	case flags.SinkTypeDiscard:
		return vstream.Discard, nil, nil
	}
	return nil, nil, fmt.Errorf("invalid sink type: %v", sinkType)
}
