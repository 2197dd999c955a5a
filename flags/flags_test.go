package flags

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterInto(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	RegisterInto(fs, LossFlag, IntervalFlag, ResourceFlag)

	require.NoError(t, fs.Parse([]string{"-loss", "0", "-interval", "10ms", "-resource", "clip.mjpeg"}))
	assert.Equal(t, uint(0), Loss)
	assert.Equal(t, 10*time.Millisecond, Interval)
	assert.Equal(t, "clip.mjpeg", Resource)

	// flags that were not registered are rejected
	err := fs.Parse([]string{"-rtp-port", "1"})
	assert.Error(t, err)
}

func TestRegisterAll(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterInto(fs)
	for name := range flags {
		assert.NotNil(t, fs.Lookup(string(name)), "flag %v", name)
	}
}

func TestRegisterUnknown(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	assert.Panics(t, func() {
		RegisterInto(fs, FlagName("unknown"))
	})
}

func TestDurationFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterInto(fs, DurationFlag)
	f := fs.Lookup(string(DurationFlag))
	require.NotNil(t, f)
	assert.Equal(t, "Playback duration, 0 plays until interrupted", f.Usage)

	saved := Duration
	t.Cleanup(func() { Duration = saved })
	require.NoError(t, fs.Parse([]string{"-duration", "3s"}))
	assert.Equal(t, 3*time.Second, Duration)
}
