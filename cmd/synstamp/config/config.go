// Package config loads the synstamp command configuration using viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration of the synstamp command.
//
// Sources in increasing priority: defaults, YAML file, SYNSTAMP_* environment
// variables (SYNSTAMP_STACK_ADDR for stack.addr) and bound command line flags.
type Config struct {
	Link   LinkConfig   `mapstructure:"link"`
	Stack  StackConfig  `mapstructure:"stack"`
	Send   SendConfig   `mapstructure:"send"`
	Listen ListenConfig `mapstructure:"listen"`
	Log    LogConfig    `mapstructure:"log"`
}

// Link types.
const (
	LinkTap  = "tap"
	LinkPcap = "pcap"
)

// LinkConfig selects the device frames are exchanged over.
type LinkConfig struct {
	Type string `mapstructure:"type"` // tap | pcap
	// Tap is the TAP interface name.
	Tap string `mapstructure:"tap"`
	// TapPrefix is assigned to the kernel side of the TAP interface. Empty leaves it unconfigured.
	TapPrefix string `mapstructure:"tap_prefix"`
	// PcapFile is written by send and read by replay when Type is pcap.
	PcapFile string `mapstructure:"pcap_file"`
}

// StackConfig holds the addressing of the emulated host.
type StackConfig struct {
	HardwareAddr string `mapstructure:"hardware_addr"`
	Gateway      string `mapstructure:"gateway"` // Empty: kernel side TAP address, or broadcast.
	Addr         string `mapstructure:"addr"`
	MaxPorts     int    `mapstructure:"max_ports"`
	SeqStart     int    `mapstructure:"seq_start"`

	// Parsed by ValidateAndApplyDefaults.
	HW     [6]byte    `mapstructure:"-"`
	GW     [6]byte    `mapstructure:"-"`
	IP     netip.Addr `mapstructure:"-"`
	HaveGW bool       `mapstructure:"-"`
}

// SendConfig configures the send command.
type SendConfig struct {
	Target   string        `mapstructure:"target"` // addr:port
	SrcPort  uint16        `mapstructure:"src_port"`
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
	Payload  string        `mapstructure:"payload"`

	Dst netip.AddrPort `mapstructure:"-"`
}

// ListenConfig configures the ports served by the listen and replay commands.
type ListenConfig struct {
	Ports []uint16 `mapstructure:"ports"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level"`  // trace / debug / info / warn / error
	Format string           `mapstructure:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures the rotating log file.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// Load reads configuration from the YAML file at path, which may be empty,
// overlays environment variables and the flags in bindings and validates the result.
// bindings maps configuration keys such as "send.count" to flags.
func Load(path string, bindings map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvPrefix("synstamp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, flag := range bindings {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag %q: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.type", LinkTap)
	v.SetDefault("link.tap", "tap0")
	v.SetDefault("link.tap_prefix", "")
	v.SetDefault("link.pcap_file", "synstamp.pcap")

	v.SetDefault("stack.hardware_addr", "02:00:00:00:00:01")
	v.SetDefault("stack.gateway", "")
	v.SetDefault("stack.addr", "192.168.10.2")
	v.SetDefault("stack.max_ports", 8)
	v.SetDefault("stack.seq_start", 1)

	v.SetDefault("send.target", "")
	v.SetDefault("send.src_port", 1000)
	v.SetDefault("send.count", 1)
	v.SetDefault("send.interval", "0s")
	v.SetDefault("send.payload", "")

	v.SetDefault("listen.ports", []uint16{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "synstamp.log")
	v.SetDefault("log.file.rotation.max_size_mb", 100)
	v.SetDefault("log.file.rotation.max_age_days", 30)
	v.SetDefault("log.file.rotation.max_backups", 5)
	v.SetDefault("log.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates the configuration and parses addresses.
// The send target is only parsed when set; commands needing it must check Send.Dst.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return errors.New("log file enabled without path")
	}

	switch cfg.Link.Type {
	case LinkTap:
		if cfg.Link.Tap == "" {
			return errors.New("tap link requires interface name")
		}
		if cfg.Link.TapPrefix != "" {
			if _, err := netip.ParsePrefix(cfg.Link.TapPrefix); err != nil {
				return fmt.Errorf("invalid tap prefix: %w", err)
			}
		}
	case LinkPcap:
		if cfg.Link.PcapFile == "" {
			return errors.New("pcap link requires file")
		}
	default:
		return fmt.Errorf("invalid link type: %s (must be tap/pcap)", cfg.Link.Type)
	}

	var err error
	cfg.Stack.HW, err = parseMAC(cfg.Stack.HardwareAddr)
	if err != nil {
		return fmt.Errorf("invalid hardware address: %w", err)
	}
	if cfg.Stack.Gateway != "" {
		cfg.Stack.GW, err = parseMAC(cfg.Stack.Gateway)
		if err != nil {
			return fmt.Errorf("invalid gateway: %w", err)
		}
		cfg.Stack.HaveGW = true
	}
	cfg.Stack.IP, err = netip.ParseAddr(cfg.Stack.Addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	} else if !cfg.Stack.IP.Is4() {
		return fmt.Errorf("address %s is not IPv4", cfg.Stack.IP)
	}
	if cfg.Stack.MaxPorts <= 0 {
		return fmt.Errorf("max_ports must be positive, got %d", cfg.Stack.MaxPorts)
	}
	if cfg.Stack.SeqStart < 0 || cfg.Stack.SeqStart > 255 {
		return fmt.Errorf("seq_start must be in 0..255, got %d", cfg.Stack.SeqStart)
	}

	if cfg.Send.Target != "" {
		cfg.Send.Dst, err = netip.ParseAddrPort(cfg.Send.Target)
		if err != nil {
			return fmt.Errorf("invalid send target: %w", err)
		} else if !cfg.Send.Dst.Addr().Is4() || cfg.Send.Dst.Port() == 0 {
			return fmt.Errorf("send target %s must be IPv4 with non-zero port", cfg.Send.Dst)
		}
	}
	if cfg.Send.SrcPort == 0 {
		return errors.New("send source port must be non-zero")
	}
	if cfg.Send.Count < 0 {
		return fmt.Errorf("send count must not be negative, got %d", cfg.Send.Count)
	}
	if cfg.Send.Interval < 0 {
		return fmt.Errorf("send interval must not be negative, got %s", cfg.Send.Interval)
	}

	if len(cfg.Listen.Ports) > cfg.Stack.MaxPorts {
		return fmt.Errorf("%d listen ports exceed max_ports %d", len(cfg.Listen.Ports), cfg.Stack.MaxPorts)
	}
	for _, port := range cfg.Listen.Ports {
		if port == 0 {
			return errors.New("listen port must be non-zero")
		}
	}
	return nil
}

func parseMAC(s string) (hw [6]byte, err error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return hw, err
	} else if len(mac) != 6 {
		return hw, fmt.Errorf("want 6 byte hardware address, got %d bytes", len(mac))
	}
	return [6]byte(mac), nil
}
