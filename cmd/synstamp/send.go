package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slashdev/synstamp/cmd/synstamp/config"
	"github.com/slashdev/synstamp/internet/pcap"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Stamp SYN segments onto the link",
	Long: `Send stamps count SYN segments from the stack address to target.
Each segment carries the configured payload. On a pcap link the frames are
written to the capture file instead of a device.

Examples:
  synstamp send --target 192.168.10.1:80
  synstamp send --target 192.168.10.1:80 --count 100 --interval 10ms --payload hello
  synstamp send --link pcap --pcap out.pcap --target 10.0.0.2:443`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringP("target", "t", "", "destination addr:port")
	sendCmd.Flags().IntP("count", "n", 1, "number of segments")
	sendCmd.Flags().Uint16("src-port", 1000, "source port")
	sendCmd.Flags().String("payload", "", "payload carried by every segment")
	sendCmd.Flags().Duration("interval", 0, "delay between segments")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"send.target":   "target",
		"send.count":    "count",
		"send.src_port": "src-port",
		"send.payload":  "payload",
		"send.interval": "interval",
	})
	if err != nil {
		return err
	}
	if !cfg.Send.Dst.IsValid() {
		return errors.New("send requires a target")
	}

	var link io.Writer
	var closers []io.Closer
	gateway := broadcast
	switch cfg.Link.Type {
	case config.LinkTap:
		tap, hw, err := openTap(cfg.Link)
		if err != nil {
			return err
		}
		link, gateway = tap, hw
		closers = append(closers, tap)
	case config.LinkPcap:
		f, err := os.Create(cfg.Link.PcapFile)
		if err != nil {
			return err
		}
		w, err := pcap.NewWriter(f, 0)
		if err != nil {
			f.Close()
			return err
		}
		link = w
		closers = append(closers, f)
	}
	s, err := newSession(cfg, describeWriter{w: link, out: cmd.OutOrStdout()}, gateway, closers...)
	if err != nil {
		return err
	}
	defer s.Close()
	stop := signalContext(cmd)
	defer stop()
	ctx := cmd.Context()

	payload := []byte(cfg.Send.Payload)
	writePayload := func(b []byte) int { return copy(b, payload) }
	s.log.Info("sending",
		slog.String("target", cfg.Send.Dst.String()),
		slog.Int("count", cfg.Send.Count),
		slog.Int("plen", len(payload)),
	)
	for i := 0; i < cfg.Send.Count; i++ {
		if i > 0 && cfg.Send.Interval > 0 {
			select {
			case <-ctx.Done():
				s.logStats()
				return nil
			case <-time.After(cfg.Send.Interval):
			}
		}
		err = s.stack.SendSYN(cfg.Send.SrcPort, cfg.Send.Dst, [6]byte{}, writePayload)
		if err != nil {
			return fmt.Errorf("sending segment %d: %w", i, err)
		}
	}
	s.logStats()
	return nil
}
