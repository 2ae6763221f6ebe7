package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/slashdev/synstamp/cmd/synstamp/config"
	"github.com/slashdev/synstamp/internet"
	"github.com/slashdev/synstamp/tcp"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "synstamp",
	Short: "Stamp TCP SYN segments and dispatch received segments by port",
	Long: `synstamp drives a minimal Ethernet/IPv4/TCP stack over a TAP interface or a pcap file.

Configuration is read from an optional YAML file, SYNSTAMP_* environment
variables and command line flags, in increasing priority.

Examples:
  synstamp send --target 192.168.10.1:80 --count 5
  synstamp listen --ports 8080,9090
  synstamp replay --pcap capture.pcap --ports 8080`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("link", "", "link type: tap or pcap")
	rootCmd.PersistentFlags().String("tap", "", "TAP interface name")
	rootCmd.PersistentFlags().String("pcap", "", "pcap file path")
	rootCmd.PersistentFlags().String("addr", "", "IPv4 address of the stack")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig loads the configuration binding the persistent flags and the
// command flags named in keys to their configuration keys.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	bindings := map[string]*pflag.Flag{
		"link.type":      cmd.Flags().Lookup("link"),
		"link.tap":       cmd.Flags().Lookup("tap"),
		"link.pcap_file": cmd.Flags().Lookup("pcap"),
		"stack.addr":     cmd.Flags().Lookup("addr"),
		"log.level":      cmd.Flags().Lookup("log-level"),
	}
	for key, flag := range keys {
		bindings[key] = cmd.Flags().Lookup(flag)
	}
	return config.Load(configFile, bindings)
}

// session is a configured stack together with its logger and open link.
type session struct {
	cfg    *config.Config
	log    *slog.Logger
	stack  *internet.Stack
	closer []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (s *session) Close() error {
	var first error
	for i := len(s.closer) - 1; i >= 0; i-- {
		if err := s.closer[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newSession builds the logger and a stack transmitting over link.
func newSession(cfg *config.Config, link io.Writer, gateway [6]byte, closers ...io.Closer) (*session, error) {
	logger, logCloser := newLogger(cfg.Log)
	s := &session{
		cfg:    cfg,
		log:    logger,
		stack:  new(internet.Stack),
		closer: append([]io.Closer{logCloser}, closers...),
	}
	if cfg.Stack.HaveGW {
		gateway = cfg.Stack.GW
	}
	err := s.stack.Reset(internet.StackConfig{
		HardwareAddr: cfg.Stack.HW,
		Gateway:      gateway,
		Addr:         cfg.Stack.IP,
		Link:         link,
		MaxPorts:     cfg.Stack.MaxPorts,
		Counter:      tcp.NewSeqCounter(uint8(cfg.Stack.SeqStart)),
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("configuring stack: %w", err)
	}
	hw, gw := s.stack.HardwareAddr6(), s.stack.Gateway6()
	logger.Debug("stack configured",
		slog.String("addr", s.stack.Addr().String()),
		slog.String("hw", net.HardwareAddr(hw[:]).String()),
		slog.String("gw", net.HardwareAddr(gw[:]).String()),
	)
	return s, nil
}

// registerPrinters registers a handler for every configured port which
// prints received payloads to out.
func (s *session) registerPrinters(out io.Writer) {
	for _, port := range s.cfg.Listen.Ports {
		s.stack.RegisterPort(port, tcp.HandlerFunc(func(payload []byte) {
			fmt.Fprintf(out, "port %d: %d bytes %q\n", port, len(payload), payload)
		}))
		s.log.Info("registered port", slog.Uint64("port", uint64(port)))
	}
}

func (s *session) logStats() {
	st := s.stack.Stats()
	s.log.Info("stats",
		slog.Uint64("out_frames", st.TCPOutFrames),
		slog.Uint64("out_bytes", st.TCPOutBytes),
		slog.Uint64("in_frames", st.TCPInFrames),
		slog.Uint64("in_bytes", st.TCPInBytes),
		slog.Uint64("dropped", st.Dropped),
	)
}

func signalContext(cmd *cobra.Command) (stop func()) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	return stop
}
