package main

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/slashdev/synstamp/cmd/synstamp/config"
	"github.com/slashdev/synstamp/internal"
	"github.com/slashdev/synstamp/internet/pcap"
)

var broadcast = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// openTap opens the configured TAP interface. The kernel side hardware address
// is returned as default gateway so frames reach the host stack.
func openTap(cfg config.LinkConfig) (*internal.Tap, [6]byte, error) {
	var prefix netip.Prefix
	if cfg.TapPrefix != "" {
		prefix = netip.MustParsePrefix(cfg.TapPrefix) // Validated on load.
	}
	tap, err := internal.NewTap(cfg.Tap, prefix)
	if err != nil {
		return nil, broadcast, fmt.Errorf("opening tap %s: %w", cfg.Tap, err)
	}
	hw, err := tap.HardwareAddress6()
	if err != nil {
		hw = broadcast
	}
	return tap, hw, nil
}

// describeWriter prints a summary of every frame before passing it on.
type describeWriter struct {
	w   io.Writer
	out io.Writer
}

func (d describeWriter) Write(frame []byte) (int, error) {
	fmt.Fprintln(d.out, "tx", pcap.Describe(frame))
	return d.w.Write(frame)
}

// describeReader prints a summary of every frame read.
type describeReader struct {
	r   io.Reader
	out io.Writer
}

func (d describeReader) Read(b []byte) (int, error) {
	n, err := d.r.Read(b)
	if n > 0 {
		fmt.Fprintln(d.out, "rx", pcap.Describe(b[:n]))
	}
	return n, err
}
