package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cohostd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "pages: 16\nbacking_file: /tmp/disk.img\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, defaultVTTYCapacity, cfg.VTTYCapacity)
}

func TestLoadRejectsMissingBackingFile(t *testing.T) {
	path := writeTempConfig(t, "pages: 16\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNonPowerOfTwoCapacity(t *testing.T) {
	path := writeTempConfig(t, "pages: 16\nbacking_file: /tmp/disk.img\nvtty_capacity: 100\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeTempConfig(t, "pages: 16\nbacking_file: /tmp/disk.img\nlog_level: verbose\n")
	_, err := Load(path)
	require.Error(t, err)
}
