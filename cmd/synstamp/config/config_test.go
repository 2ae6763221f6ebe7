package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synstamp.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, LinkTap, cfg.Link.Type)
	assert.Equal(t, "tap0", cfg.Link.Tap)
	assert.Equal(t, [6]byte{0x02, 0, 0, 0, 0, 1}, cfg.Stack.HW)
	assert.False(t, cfg.Stack.HaveGW)
	assert.Equal(t, netip.MustParseAddr("192.168.10.2"), cfg.Stack.IP)
	assert.Equal(t, 8, cfg.Stack.MaxPorts)
	assert.Equal(t, 1, cfg.Stack.SeqStart)
	assert.Equal(t, uint16(1000), cfg.Send.SrcPort)
	assert.Equal(t, 1, cfg.Send.Count)
	assert.False(t, cfg.Send.Dst.IsValid())
	assert.Empty(t, cfg.Listen.Ports)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 100, cfg.Log.File.Rotation.MaxSizeMB)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
link:
  type: pcap
  pcap_file: out.pcap
stack:
  hardware_addr: "de:ad:be:ef:00:01"
  gateway: "de:ad:be:ef:00:fe"
  addr: 10.0.0.1
  max_ports: 4
send:
  target: 10.0.0.2:80
  src_port: 4000
  count: 10
  interval: 250ms
  payload: hello
listen:
  ports: [8080, 9090]
log:
  level: trace
  format: json
  file:
    enabled: true
    path: /tmp/synstamp.log
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, LinkPcap, cfg.Link.Type)
	assert.Equal(t, "out.pcap", cfg.Link.PcapFile)
	assert.Equal(t, [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 1}, cfg.Stack.HW)
	assert.Equal(t, [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 0xfe}, cfg.Stack.GW)
	assert.True(t, cfg.Stack.HaveGW)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:80"), cfg.Send.Dst)
	assert.Equal(t, uint16(4000), cfg.Send.SrcPort)
	assert.Equal(t, 10, cfg.Send.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Send.Interval)
	assert.Equal(t, "hello", cfg.Send.Payload)
	assert.Equal(t, []uint16{8080, 9090}, cfg.Listen.Ports)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.True(t, cfg.Log.File.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
stack:
  addr: 10.0.0.1
`)
	t.Setenv("SYNSTAMP_STACK_ADDR", "172.16.0.5")
	t.Setenv("SYNSTAMP_SEND_COUNT", "7")
	t.Setenv("SYNSTAMP_LOG_LEVEL", "debug")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("172.16.0.5"), cfg.Stack.IP)
	assert.Equal(t, 7, cfg.Send.Count)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, `
send:
  count: 3
  target: 10.0.0.2:80
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("count", 1, "")
	fs.String("target", "", "")
	require.NoError(t, fs.Parse([]string{"--count", "42"}))
	cfg, err := Load(path, map[string]*pflag.Flag{
		"send.count":  fs.Lookup("count"),
		"send.target": fs.Lookup("target"),
	})
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Send.Count)
	// Unchanged flags do not shadow the file.
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:80"), cfg.Send.Dst)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "log level", content: "log:\n  level: verbose\n"},
		{name: "log format", content: "log:\n  format: xml\n"},
		{name: "link type", content: "link:\n  type: serial\n"},
		{name: "hardware address", content: "stack:\n  hardware_addr: zz:00\n"},
		{name: "ipv6 address", content: "stack:\n  addr: \"::1\"\n"},
		{name: "max ports", content: "stack:\n  max_ports: 0\n"},
		{name: "seq start", content: "stack:\n  seq_start: 300\n"},
		{name: "target", content: "send:\n  target: 10.0.0.2\n"},
		{name: "zero target port", content: "send:\n  target: 10.0.0.2:0\n"},
		{name: "src port", content: "send:\n  src_port: 0\n"},
		{name: "zero listen port", content: "listen:\n  ports: [0]\n"},
		{name: "too many ports", content: "stack:\n  max_ports: 1\nlisten:\n  ports: [1, 2]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"), nil)
	assert.Error(t, err)
}
