package installer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/plugin-courier/internal/protocol"
)

// DefaultFileMode is applied to installed artifacts.
const DefaultFileMode os.FileMode = 0o755

// Installer is the host-specific collaborator the install flow hands
// artifacts to. ShouldUpdate decides whether a pending update proceeds
// (a host may ask the end user); InstallFile persists one artifact.
type Installer interface {
	ShouldUpdate(response *protocol.UpdateResponse) bool
	InstallFile(path string, data []byte) error
}

// FileInstaller is the default Installer: it accepts every update and writes
// artifacts to the local filesystem, replacing existing files atomically.
type FileInstaller struct{}

// NewFileInstaller creates the default filesystem installer.
func NewFileInstaller() *FileInstaller {
	return &FileInstaller{}
}

// ShouldUpdate accepts every offered update.
func (i *FileInstaller) ShouldUpdate(_ *protocol.UpdateResponse) bool {
	return true
}

// InstallFile persists one artifact, creating parent directories as needed.
// A zero-length payload is a directory sentinel: the path itself is
// (re)created as a directory instead of a file.
func (i *FileInstaller) InstallFile(path string, data []byte) error {
	if len(data) == 0 {
		if err := os.MkdirAll(path, DefaultFileMode); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultFileMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}

	// The apply step swaps the target in place, so the target must exist first.
	if _, err := os.Stat(path); err != nil && errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("create %s: %w", path, createErr)
		}

		_ = placeholder.Close()
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: DefaultFileMode,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}

	oldPath := path + ".old"
	if _, err := os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	return nil
}
