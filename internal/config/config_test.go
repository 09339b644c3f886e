package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields, format validations, and defaults.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing socket.
	cfg := new(Config)

	err := Validate(cfg)
	require.Error(t, err)

	// Bad socket.
	cfg = &Config{
		ServerAddress: "bad:address",
	}

	err = Validate(cfg)
	require.Error(t, err)

	// Okay, defaults filled.
	cfg = &Config{
		ServerAddress: "127.0.0.1:45000",
	}

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultPackagesDir, cfg.PackagesDir)
	require.Equal(t, DefaultMarkerFilename, cfg.MarkerFile)
	require.Equal(t, DefaultPrimaryExtension, cfg.PrimaryExtension)
}

// TestDataAddress verifies the data channel sits one port above the control channel.
func TestDataAddress(t *testing.T) {
	t.Parallel()

	addr, err := DataAddress("127.0.0.1:45000")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:45001", addr)

	_, err = DataAddress("no-port")
	require.Error(t, err)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		ServerAddress:    "127.0.0.1:45000",
		PackagesDir:      "packages",
		PrimaryExtension: ".so",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ServerAddress, loaded.ServerAddress)
	require.Equal(t, cfg.PackagesDir, loaded.PackagesDir)
	require.Equal(t, cfg.PrimaryExtension, loaded.PrimaryExtension)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
