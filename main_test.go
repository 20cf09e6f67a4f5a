package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rov-remote/internal/config"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rov.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "127.0.0.1:7000"
serial:
  device: /dev/ttyUSB0
  baud_rate: 57600
drive:
  power: 40
`), 0o600))

	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{
		"--config", path,
		"--device", "/dev/ttyACM1",
		"--deadman", "-1s",
	}))

	cfg, err := loadConfig(root)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	require.Equal(t, "/dev/ttyACM1", cfg.Serial.Device)
	require.Equal(t, 57600, cfg.Serial.BaudRate)
	require.Equal(t, 40, cfg.Drive.Power)
	require.Equal(t, -time.Second, cfg.Drive.DeadmanTimeout)
}

func TestLoadConfigValidatesAfterFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rov.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  auto_connect: true
`), 0o600))

	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--config", path}))
	_, err := loadConfig(root)
	require.Error(t, err, "auto_connect without a device")

	root = newRootCommand()
	require.NoError(t, root.ParseFlags([]string{
		"--config", path,
		"--device", "/dev/ttyACM1",
	}))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	require.True(t, cfg.Serial.AutoConnect)
	require.Equal(t, "/dev/ttyACM1", cfg.Serial.Device)
	require.Equal(t, config.DefaultBaudRate, cfg.Serial.BaudRate)
}

func TestLoadConfigMissingFile(t *testing.T) {
	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
	}))

	_, err := loadConfig(root)
	require.Error(t, err)
}
