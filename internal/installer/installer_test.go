package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFileInstaller_WritesFileAndParents verifies artifact writes create
// missing parents and replace existing contents.
func TestFileInstaller_WritesFileAndParents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deep", "artifact.so")

	fi := NewFileInstaller()
	require.NoError(t, fi.InstallFile(target, []byte("first")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	// Replacing an existing file leaves no .old behind.
	require.NoError(t, fi.InstallFile(target, []byte("second")))

	data, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	_, err = os.Stat(target + ".old")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileInstaller_SentinelCreatesDirectory ensures a zero-length payload
// recreates the destination directory.
func TestFileInstaller_SentinelCreatesDirectory(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "assets")

	fi := NewFileInstaller()
	require.NoError(t, fi.InstallFile(target, nil))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
