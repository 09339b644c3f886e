package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/registry"
	"github.com/oshokin/plugin-courier/internal/repository/marker"
	"github.com/oshokin/plugin-courier/internal/service/client"
	"github.com/oshokin/plugin-courier/internal/service/server"
)

// reservePortPair finds an address whose port and the next port are both
// free. The data channel always lives on control port + 1.
func reservePortPair(t *testing.T) string {
	t.Helper()

	for attempt := 0; attempt < 20; attempt++ {
		control, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		addr, ok := control.Addr().(*net.TCPAddr)
		require.True(t, ok)

		data, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", addr.Port+1))

		_ = control.Close()

		if err != nil {
			continue
		}

		_ = data.Close()

		return fmt.Sprintf("127.0.0.1:%d", addr.Port)
	}

	t.Fatal("no free consecutive port pair")

	return ""
}

// startServer starts a real update server over a temporary config and the
// given packages directory. Returns a stop function for graceful shutdown.
func startServer(t *testing.T, addr, packagesDir string) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	require.NoError(t, config.Save(cfgPath, &config.Config{
		ServerAddress: addr,
		PackagesDir:   packagesDir,
		Timeout:       5 * time.Second,
	}))

	// Start server in background goroutine.
	go func() {
		options := &server.Options{
			ConfigPath:  cfgPath,
			PackagesDir: packagesDir,
		}

		_ = server.Run(ctx, options)
	}()

	// Wait briefly for the listeners to come up.
	time.Sleep(150 * time.Millisecond)

	return func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
	}
}

// writePackage lays out one served package definition on disk.
func writePackage(t *testing.T, packagesDir, name, manifest string, files map[string]string) {
	t.Helper()

	dir := filepath.Join(packagesDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for relative, contents := range files {
		target := filepath.Join(dir, relative)
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(contents), 0o644))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.ManifestFilename), []byte(manifest), 0o644))
}

// TestUpdate_EndToEnd runs a real server and a real client: an outdated
// client fetches and installs every artifact including folder contents and
// the directory sentinel, and leaves no recovery marker behind.
func TestUpdate_EndToEnd(t *testing.T) {
	t.Parallel()

	packagesDir := t.TempDir()
	installDir := t.TempDir()
	pluginPath := filepath.Join(installDir, "demo.so")
	assetsDir := filepath.Join(installDir, "assets")

	manifest := fmt.Sprintf(`
name: demo
version: 1.0.0
files:
  - install_location: {type: absolute_path, path: %s}
    source_path: demo.so
folders:
  - install_root_location: {type: absolute_path, path: %s}
    root_name: assets
`, pluginPath, assetsDir)

	writePackage(t, packagesDir, "demo", manifest, map[string]string{
		"demo.so":      "new plugin bytes",
		"assets/a.txt": "alpha",
	})

	addr := reservePortPair(t)
	stop := startServer(t, addr, packagesDir)
	defer stop()

	markerPath := filepath.Join(t.TempDir(), "installing.marker")
	options := &client.Options{
		ServerAddress: addr,
		PluginName:    "demo",
		PluginVersion: "0.9.0",
		Timeout:       5 * time.Second,
		MarkerPath:    markerPath,
	}

	require.True(t, client.CheckUpdate(context.Background(), options))

	data, err := os.ReadFile(pluginPath)
	require.NoError(t, err)
	require.Equal(t, "new plugin bytes", string(data))

	data, err = os.ReadFile(filepath.Join(assetsDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))

	// The sentinel guarantees the folder root exists as a directory.
	info, err := os.Stat(assetsDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// No marker survives a successful install.
	present, err := marker.NewFileStore(markerPath).Exists()
	require.NoError(t, err)
	require.False(t, present)
}

// TestUpdate_UpToDateClient verifies that a client already on the served
// version gets no update and nothing is written.
func TestUpdate_UpToDateClient(t *testing.T) {
	t.Parallel()

	packagesDir := t.TempDir()
	installDir := t.TempDir()
	pluginPath := filepath.Join(installDir, "demo.so")

	manifest := fmt.Sprintf(`
name: demo
version: 1.0.0
files:
  - install_location: {type: absolute_path, path: %s}
    source_path: demo.so
`, pluginPath)

	writePackage(t, packagesDir, "demo", manifest, map[string]string{"demo.so": "payload"})

	addr := reservePortPair(t)
	stop := startServer(t, addr, packagesDir)
	defer stop()

	options := &client.Options{
		ServerAddress: addr,
		PluginName:    "demo",
		PluginVersion: "1.0.0",
		Timeout:       5 * time.Second,
		MarkerPath:    filepath.Join(t.TempDir(), "installing.marker"),
	}

	require.False(t, client.CheckUpdate(context.Background(), options))

	_, err := os.Stat(pluginPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestUpdate_RecoveryPreservesDirectories verifies resume semantics against
// a real server: with the marker present the pre-download purge is skipped,
// already-present non-primary files stay untouched, and the primary
// artifact is re-fetched.
func TestUpdate_RecoveryPreservesDirectories(t *testing.T) {
	t.Parallel()

	packagesDir := t.TempDir()
	installDir := t.TempDir()
	pluginPath := filepath.Join(installDir, "demo.so")
	assetsDir := filepath.Join(installDir, "assets")

	manifest := fmt.Sprintf(`
name: demo
version: 1.0.0
files:
  - install_location: {type: absolute_path, path: %s}
    source_path: demo.so
folders:
  - install_root_location: {type: absolute_path, path: %s}
    root_name: assets
`, pluginPath, assetsDir)

	writePackage(t, packagesDir, "demo", manifest, map[string]string{
		"demo.so":      "fresh plugin",
		"assets/a.txt": "server copy",
	})

	// Simulate the state after an interrupted attempt: the asset landed,
	// the plugin did not, and the marker is on disk.
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "a.txt"), []byte("prior attempt"), 0o644))

	markerPath := filepath.Join(t.TempDir(), "installing.marker")
	require.NoError(t, marker.NewFileStore(markerPath).Set())

	addr := reservePortPair(t)
	stop := startServer(t, addr, packagesDir)
	defer stop()

	options := &client.Options{
		ServerAddress: addr,
		PluginName:    "demo",
		PluginVersion: "0.9.0",
		Timeout:       5 * time.Second,
		MarkerPath:    markerPath,
	}

	require.True(t, client.CheckUpdate(context.Background(), options))

	// The asset from the prior attempt was skipped, not re-downloaded.
	data, err := os.ReadFile(filepath.Join(assetsDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "prior attempt", string(data))

	// The primary artifact is always re-fetched.
	data, err = os.ReadFile(pluginPath)
	require.NoError(t, err)
	require.Equal(t, "fresh plugin", string(data))

	// The marker is deleted on completion.
	present, err := marker.NewFileStore(markerPath).Exists()
	require.NoError(t, err)
	require.False(t, present)
}

// TestUpdate_BetaGate verifies a beta package is withheld from regular
// clients and served to opted-in ones.
func TestUpdate_BetaGate(t *testing.T) {
	t.Parallel()

	packagesDir := t.TempDir()
	installDir := t.TempDir()
	pluginPath := filepath.Join(installDir, "edge.so")

	manifest := fmt.Sprintf(`
name: edge
version: 2.0.0-rc.1
beta: true
files:
  - install_location: {type: absolute_path, path: %s}
    source_path: edge.so
`, pluginPath)

	writePackage(t, packagesDir, "edge", manifest, map[string]string{"edge.so": "rc build"})

	addr := reservePortPair(t)
	stop := startServer(t, addr, packagesDir)
	defer stop()

	options := &client.Options{
		ServerAddress: addr,
		PluginName:    "edge",
		PluginVersion: "1.0.0",
		Timeout:       5 * time.Second,
		MarkerPath:    filepath.Join(t.TempDir(), "installing.marker"),
	}

	// Regular client: the beta release is withheld.
	require.False(t, client.CheckUpdate(context.Background(), options))

	// Opted-in client: the beta release is served and installed.
	options.AllowBeta = true
	require.True(t, client.CheckUpdate(context.Background(), options))

	data, err := os.ReadFile(pluginPath)
	require.NoError(t, err)
	require.Equal(t, "rc build", string(data))
}
