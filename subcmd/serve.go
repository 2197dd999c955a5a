package subcmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mengelbart/vstream"
	"github.com/mengelbart/vstream/cmdmain"
	"github.com/mengelbart/vstream/flags"
	statusapi "github.com/mengelbart/vstream/http"
	"github.com/mengelbart/vstream/internal/http"
	"github.com/mengelbart/vstream/internal/metrics"
	"github.com/mengelbart/vstream/server"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmdmain.RegisterSubCmd("serve", func() cmdmain.SubCmd { return new(Serve) })
}

type Serve struct{}

// Help implements cmdmain.SubCmd.
func (s *Serve) Help() string {
	return "Run a streaming server"
}

// Exec implements cmdmain.SubCmd.
func (s *Serve) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	flags.RegisterInto(fs, []flags.FlagName{
		flags.LocalAddrFlag,
		flags.RTSPPortFlag,
		flags.HTTPAddrFlag,
		flags.MediaRootFlag,
		flags.CodecFlag,
		flags.LossFlag,
		flags.IntervalFlag,
		flags.RateLimitFlag,
		flags.TraceRTPSendFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run a streaming server

Usage:
	%s serve [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if flags.Loss > 100 {
		fmt.Fprintf(os.Stderr, "Invalid %v value, must be between 0 and 100.\n", flags.LossFlag)
		fs.Usage()
		os.Exit(1)
	}

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	codec, err := vstream.NewCodec(flags.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	srv, err := server.New(
		server.WithMediaRoot(flags.MediaRoot),
		server.WithMetrics(m),
		server.WithScheduling(
			server.SchedulerCodec(codec),
			server.SchedulerLoss(int(flags.Loss)),
			server.SchedulerInterval(flags.Interval),
			server.SchedulerRateLimit(flags.RateLimit),
			server.SchedulerTracePackets(flags.TraceRTPSend),
		),
	)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		addr := net.JoinHostPort(flags.LocalAddr, strconv.FormatUint(uint64(flags.RTSPPort), 10))
		return srv.ListenAndServe(ctx, addr)
	})

	if flags.HTTPAddr != "" {
		api, err := statusapi.NewAPI(srv, statusapi.APILogger(slog.Default()), statusapi.APIMetrics(m.Handler()))
		if err != nil {
			return err
		}
		hs, err := http.NewServer(
			http.Address(flags.HTTPAddr),
			http.Handle(api.Handler()),
			http.RequestLogger(slog.Default()),
		)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return hs.ListenAndServe(ctx)
		})
	}

	return eg.Wait()
}
