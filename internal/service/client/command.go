package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/installer"
	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/protocol"
	"github.com/oshokin/plugin-courier/internal/repository/marker"
)

var (
	errAnotherInstanceRunning = errors.New("another updater instance is running")
	errInvalidRequest         = errors.New("server rejected the request as invalid")
	errPluginNotFound         = errors.New("package not found on the update server")
	errUnexpectedCode         = errors.New("unexpected response code")
)

// Options are the inputs accepted by the client entry points.
type Options struct {
	// ServerAddress is the control-channel address of the update server.
	ServerAddress string
	// PluginName is the package to check.
	PluginName string
	// PluginVersion is the currently installed version.
	PluginVersion string
	// AllowBeta opts in to beta releases.
	AllowBeta bool
	// Timeout bounds every network operation. Defaults to the config default.
	Timeout time.Duration
	// MarkerPath is the recovery-marker location. Defaults to the config default.
	MarkerPath string
	// PrimaryExtension is the always-refetch extension of the recovery skip
	// policy. Defaults to the config default.
	PrimaryExtension string
}

// normalize fills option defaults in place.
func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = config.DefaultTimeout
	}

	if o.MarkerPath == "" {
		o.MarkerPath = config.DefaultMarkerFilename
	}

	if o.PrimaryExtension == "" {
		o.PrimaryExtension = config.DefaultPrimaryExtension
	}
}

// CheckUpdate queries the server and installs a pending update with the
// default filesystem installer. It reports whether an update was applied;
// any failure surfaces through logging and a false return.
func CheckUpdate(ctx context.Context, opts *Options) bool {
	return CustomCheckUpdate(ctx, opts, installer.NewFileInstaller())
}

// CustomCheckUpdate runs the full check-and-install flow with a caller
// provided installer implementation.
func CustomCheckUpdate(ctx context.Context, opts *Options, inst installer.Installer) bool {
	ctx = logger.WithName(ctx, "courier-client")
	opts.normalize()

	s := newSession(opts, inst, marker.NewFileStore(opts.MarkerPath), installer.NewExecRestarter())

	return s.run(ctx)
}

// GetUpdateInfo queries the server without installing anything.
func GetUpdateInfo(ctx context.Context, opts *Options) (*protocol.UpdateResponse, error) {
	ctx = logger.WithName(ctx, "courier-client")
	opts.normalize()

	s := newSession(opts, installer.NewFileInstaller(), marker.NewFileStore(opts.MarkerPath), installer.NewExecRestarter())
	s.setState(ctx, stateQuerying)

	response, err := s.query(ctx)
	if err != nil {
		return nil, err
	}

	return response, nil
}

// InstallUpdate installs an update from an already-fetched response,
// bypassing the query and should-update steps.
func InstallUpdate(ctx context.Context, opts *Options, response *protocol.UpdateResponse) bool {
	ctx = logger.WithName(ctx, "courier-client")
	opts.normalize()

	s := newSession(opts, installer.NewFileInstaller(), marker.NewFileStore(opts.MarkerPath), installer.NewExecRestarter())

	return s.install(ctx, response)
}

// isAnotherInstanceRunning scans the process table for a second live
// instance of this executable. The recovery marker is only a crude
// cross-restart mutex; this guard covers concurrent starts.
func isAnotherInstanceRunning() (bool, error) {
	executable, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("locate executable: %w", err)
	}

	executableName := filepath.Base(executable)

	processes, err := ps.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	for _, process := range processes {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == executableName {
			return true, nil
		}
	}

	return false, nil
}
