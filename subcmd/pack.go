package subcmd

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mengelbart/vstream/cmdmain"
	"github.com/mengelbart/vstream/media"
)

func init() {
	cmdmain.RegisterSubCmd("pack", func() cmdmain.SubCmd { return new(Pack) })
}

type Pack struct{}

// Help implements cmdmain.SubCmd.
func (p *Pack) Help() string {
	return "Pack image files into a media container"
}

// Exec implements cmdmain.SubCmd.
func (p *Pack) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	output := fs.String("output", "movie.Mjpeg", "Container file to write")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Pack image files into a media container, one frame per file

Usage:
	%s pack [flags] <file>...

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "error: missing input files")
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = packFiles(bw, fs.Args())
	return errors.Join(err, bw.Flush(), f.Close())
}

func packFiles(w io.Writer, paths []string) error {
	mw := media.NewWriter(w)
	for _, path := range paths {
		frame, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err = mw.WriteFrame(frame); err != nil {
			return fmt.Errorf("%v: %w", path, err)
		}
	}
	return nil
}
