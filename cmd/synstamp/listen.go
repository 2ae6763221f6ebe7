package main

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/cmd/synstamp/config"
	"github.com/slashdev/synstamp/internet"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Dispatch segments received on a TAP interface to ports",
	Long: `Listen reads frames from the TAP interface and prints the payload of
every TCP segment addressed to the stack on one of the configured ports.

Examples:
  synstamp listen --ports 8080
  synstamp listen --tap tap1 --addr 192.168.20.2 --ports 8080,9090 --verbose`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringSlice("ports", nil, "ports to dispatch")
	listenCmd.Flags().BoolP("verbose", "v", false, "print a summary of every received frame")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{"listen.ports": "ports"})
	if err != nil {
		return err
	}
	if cfg.Link.Type != config.LinkTap {
		return errors.New("listen requires a tap link, use replay for pcap files")
	} else if len(cfg.Listen.Ports) == 0 {
		return errors.New("listen requires at least one port")
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	tap, gateway, err := openTap(cfg.Link)
	if err != nil {
		return err
	}
	closeTap := sync.OnceValue(tap.Close)
	s, err := newSession(cfg, tap, gateway, closerFunc(closeTap))
	if err != nil {
		return err
	}
	defer s.Close()
	out := cmd.OutOrStdout()
	s.registerPrinters(out)
	stop := signalContext(cmd)
	defer stop()
	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		closeTap() // Unblock Read.
	}()

	var src io.Reader = tap
	if verbose {
		src = describeReader{r: tap, out: out}
	}
	if mtu, err := tap.MTU(); err == nil && mtu+synstamp.SizeHeaderEthNoVLAN > internet.MaxFrameSize {
		s.log.Warn("tap MTU exceeds the stack frame size",
			slog.Int("mtu", mtu), slog.Int("max_frame", internet.MaxFrameSize))
	}
	if prefix, err := tap.IPMask(); err == nil {
		s.log.Info("tap kernel side", slog.String("prefix", prefix.String()))
	}
	s.log.Info("listening", slog.String("tap", tap.Name()), slog.String("addr", cfg.Stack.IP.String()))
	for ctx.Err() == nil {
		n, err := src.Read(s.stack.InboundBuffer())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		} else if n == 0 {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		err = s.stack.Recv(n)
		if err != nil && !errors.Is(err, synstamp.ErrPacketDrop) {
			s.log.Debug("recv", slog.String("err", err.Error()))
		}
	}
	s.logStats()
	return nil
}
