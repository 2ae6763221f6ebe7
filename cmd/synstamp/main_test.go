package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestSendReplay(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "out.pcap")
	out := execute(t, "send",
		"--link", "pcap", "--pcap", capture,
		"--addr", "10.0.0.2", "--log-level", "error",
		"--target", "10.0.0.2:8080", "--count", "3", "--payload", "hi",
	)
	assert.Equal(t, 3, strings.Count(out, "tx 10.0.0.2:1000 -> 10.0.0.2:8080 TCP [SYN]"), out)
	assert.Contains(t, out, "seq=16777217")
	assert.Contains(t, out, "seq=16777219")

	out = execute(t, "replay",
		"--link", "pcap", "--pcap", capture,
		"--addr", "10.0.0.2", "--log-level", "error",
		"--ports", "9090,8080",
	)
	assert.Equal(t, 3, strings.Count(out, `port 8080: 2 bytes "hi"`), out)
	assert.NotContains(t, out, "port 9090:")
}

func TestSendRequiresTarget(t *testing.T) {
	rootCmd.SetArgs([]string{"send", "--link", "pcap", "--pcap", filepath.Join(t.TempDir(), "x.pcap"), "--target", ""})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	assert.Error(t, rootCmd.Execute())
}
