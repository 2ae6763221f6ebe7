package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/internet/pcap"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a pcap capture through the receive path",
	Long: `Replay reads every frame of a pcap capture and dispatches the TCP segments
addressed to the stack to the configured ports, as listen does for a live
TAP interface. Nothing is transmitted.

Examples:
  synstamp replay --pcap capture.pcap --addr 10.0.0.2 --ports 80
  synstamp replay --pcap out.pcap --ports 80 --verbose`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringSlice("ports", nil, "ports to dispatch")
	replayCmd.Flags().BoolP("verbose", "v", false, "print a summary of every frame")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{"listen.ports": "ports"})
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	f, err := os.Open(cfg.Link.PcapFile)
	if err != nil {
		return err
	}
	r, err := pcap.NewReader(f)
	if err != nil {
		f.Close()
		return err
	}
	s, err := newSession(cfg, io.Discard, broadcast, f)
	if err != nil {
		return err
	}
	defer s.Close()
	out := cmd.OutOrStdout()
	s.registerPrinters(out)

	var src io.Reader = r
	if verbose {
		src = describeReader{r: r, out: out}
	}
	frames := 0
	for {
		n, err := src.Read(s.stack.InboundBuffer())
		if err == io.EOF {
			break
		}
		frames++
		if errors.Is(err, io.ErrShortBuffer) {
			s.log.Warn("replay:oversized frame", slog.Int("frame", frames))
			continue
		} else if err != nil {
			return err
		}
		err = s.stack.Recv(n)
		if err != nil && !errors.Is(err, synstamp.ErrPacketDrop) {
			s.log.Debug("replay:recv", slog.Int("frame", frames), slog.String("err", err.Error()))
		}
	}
	s.log.Info("replay done", slog.Int("frames", frames))
	s.logStats()
	return nil
}
