package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 4500*time.Millisecond, cfg.Heartbeat.Interval)
	require.Equal(t, 500*time.Millisecond, cfg.Heartbeat.Jitter)
	require.Equal(t, 10*time.Second, cfg.Heartbeat.StalenessThreshold)
	require.Equal(t, ":19880", cfg.API.ListenAddr)
	require.Equal(t, ":19881", cfg.Metrics.ListenAddr)
}

func TestLoadMissingDefaultPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().API.ListenAddr, cfg.API.ListenAddr)
}

func TestLoadMissingExplicitPathErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dpl.yaml")
	doc := "store:\n  basePath: /var/lib/dpl\nheartbeat:\n  interval: 2s\napi:\n  listenAddr: :9000\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/dpl", cfg.Store.BasePath)
	require.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, ":9000", cfg.API.ListenAddr)
	// Untouched fields keep their nominal defaults.
	require.Equal(t, 500*time.Millisecond, cfg.Heartbeat.Jitter)
	require.Equal(t, ":19881", cfg.Metrics.ListenAddr)
}
