package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/installer"
	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/protocol"
	"github.com/oshokin/plugin-courier/internal/repository/marker"
)

// state is one step of the install flow. Failures exit to stateFailed from
// every non-terminal state.
type state int

const (
	stateIdle state = iota
	stateQuerying
	stateNoUpdate
	stateDeclined
	stateDownloading
	stateInstalled
	stateFailed
)

// String renders the state for logs.
func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateQuerying:
		return "querying"
	case stateNoUpdate:
		return "no_update"
	case stateDeclined:
		return "declined"
	case stateDownloading:
		return "downloading"
	case stateInstalled:
		return "installed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// dialFunc opens one connection. Injected so transport failures are
// simulable in tests.
type dialFunc func(ctx context.Context, address string) (net.Conn, error)

// guardFunc reports whether another instance of this client is running.
type guardFunc func() (bool, error)

// session drives one install attempt. It owns no cross-request state except
// the recovery marker store, which is durable and external to the process.
type session struct {
	opts      *Options
	installer installer.Installer
	markers   marker.Store
	restarter installer.Restarter
	dial      dialFunc
	guard     guardFunc

	state state
}

// newSession wires the collaborators for one attempt.
func newSession(
	opts *Options,
	inst installer.Installer,
	markers marker.Store,
	restarter installer.Restarter,
) *session {
	dialer := &net.Dialer{Timeout: opts.Timeout}

	return &session{
		opts:      opts,
		installer: inst,
		markers:   markers,
		restarter: restarter,
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", address)
		},
		guard: isAnotherInstanceRunning,
		state: stateIdle,
	}
}

// setState records a state transition.
func (s *session) setState(ctx context.Context, next state) {
	logger.DebugKV(ctx, "Install state changed", "from", s.state, "to", next)
	s.state = next
}

// fail reports a failure and moves the session to the terminal failed state.
// Callers surface the cause only through logging; the entry points return a
// plain boolean so callers treat any false as "update not applied, safe to
// retry later".
func (s *session) fail(ctx context.Context, err error) bool {
	logger.ErrorKV(ctx, "Update attempt failed", "state", s.state, "error", err)
	s.setState(ctx, stateFailed)

	return false
}

// run executes the full check-and-install flow.
func (s *session) run(ctx context.Context) bool {
	running, err := s.guard()
	if err != nil {
		return s.fail(ctx, fmt.Errorf("instance guard: %w", err))
	}

	if running {
		return s.fail(ctx, errAnotherInstanceRunning)
	}

	s.setState(ctx, stateQuerying)

	response, err := s.query(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}

	switch response.Code {
	case protocol.CodeNoUpdate:
		s.setState(ctx, stateNoUpdate)
		logger.InfoKV(ctx, "No update available", "plugin", s.opts.PluginName)

		return false
	case protocol.CodeInvalidRequest:
		return s.fail(ctx, errInvalidRequest)
	case protocol.CodePluginNotFound:
		return s.fail(ctx, fmt.Errorf("%w: %s", errPluginNotFound, s.opts.PluginName))
	case protocol.CodeUpdate:
		// Fall through to install.
	default:
		return s.fail(ctx, fmt.Errorf("%w: %q", errUnexpectedCode, response.Code))
	}

	if !s.installer.ShouldUpdate(response) {
		s.setState(ctx, stateDeclined)
		logger.InfoKV(ctx, "Update declined", "plugin", s.opts.PluginName)

		return false
	}

	return s.install(ctx, response)
}

// query performs one control-channel exchange.
func (s *session) query(ctx context.Context) (*protocol.UpdateResponse, error) {
	conn, err := s.dial(ctx, s.opts.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("connect control channel: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	if err = conn.SetDeadline(time.Now().Add(s.opts.Timeout)); err != nil {
		return nil, fmt.Errorf("set control deadline: %w", err)
	}

	request := protocol.NewUpdateRequest(s.opts.PluginName, s.opts.PluginVersion, s.opts.AllowBeta)
	if err = protocol.WriteRequest(conn, request); err != nil {
		return nil, err
	}

	// Connection close signals the end of the response.
	response, err := protocol.ReadResponse(conn)
	if err != nil {
		return nil, err
	}

	return response, nil
}

// install fetches and installs every required artifact in response order.
func (s *session) install(ctx context.Context, response *protocol.UpdateResponse) bool {
	recovering, err := s.markers.Exists()
	if err != nil {
		return s.fail(ctx, fmt.Errorf("check recovery marker: %w", err))
	}

	if recovering {
		logger.Info(ctx, "Recovery marker present, resuming interrupted install")
	} else {
		// Stale files from a previous version must not linger: artifacts are
		// never expressed as deletions, so destination directories are purged
		// once before any fetch. A recovering install skips the purge; it may
		// already have repopulated those directories.
		s.purgeDestinations(ctx, response)
	}

	s.setState(ctx, stateDownloading)

	for _, entry := range response.RequiredFiles {
		destination, err := entry.InstallLocation.ResolvePath()
		if err != nil {
			return s.fail(ctx, err)
		}

		if recovering && s.skipRecovered(ctx, destination) {
			continue
		}

		data, fetchErr := s.fetchArtifact(ctx, entry.DownloadIndex)
		if fetchErr != nil {
			if isDescriptorExhaustion(fetchErr) {
				return s.recoverAndRestart(ctx, fetchErr)
			}

			return s.fail(ctx, fetchErr)
		}

		if err = s.installer.InstallFile(destination, data); err != nil {
			return s.fail(ctx, fmt.Errorf("install %s: %w", destination, err))
		}

		logger.InfoKV(ctx, "Artifact installed", "path", destination, "bytes", len(data))
	}

	if err = s.markers.Clear(); err != nil {
		return s.fail(ctx, fmt.Errorf("clear recovery marker: %w", err))
	}

	s.setState(ctx, stateInstalled)
	logger.InfoKV(ctx, "Update installed", "plugin", s.opts.PluginName, "version", response.PluginVersion)

	return true
}

// purgeDestinations deletes every destination that currently is a directory.
func (s *session) purgeDestinations(ctx context.Context, response *protocol.UpdateResponse) {
	for _, entry := range response.RequiredFiles {
		destination, err := entry.InstallLocation.ResolvePath()
		if err != nil {
			continue
		}

		if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
			logger.InfoKV(ctx, "Purging destination directory before update", "path", destination)

			_ = os.RemoveAll(destination)
		}
	}
}

// skipRecovered applies the partial-resume heuristic: during a recovering
// install an already-present destination is treated as installed by the
// prior attempt, except files with the primary extension, which are always
// re-fetched. The policy is configurable because the assumption that
// non-primary files are safe to skip is a heuristic, not a guarantee.
func (s *session) skipRecovered(ctx context.Context, destination string) bool {
	if _, err := os.Stat(destination); err != nil {
		return false
	}

	if filepath.Ext(destination) == s.opts.PrimaryExtension {
		return false
	}

	logger.InfoKV(ctx, "Skipping artifact already present from prior attempt", "path", destination)

	return true
}

// fetchArtifact performs one data-channel exchange.
func (s *session) fetchArtifact(ctx context.Context, index uint64) ([]byte, error) {
	dataAddress, err := config.DataAddress(s.opts.ServerAddress)
	if err != nil {
		return nil, err
	}

	conn, err := s.dial(ctx, dataAddress)
	if err != nil {
		return nil, fmt.Errorf("connect data channel: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	if err = conn.SetDeadline(time.Now().Add(s.opts.Timeout)); err != nil {
		return nil, fmt.Errorf("set data deadline: %w", err)
	}

	if err = protocol.WriteDownloadIndex(conn, index); err != nil {
		return nil, err
	}

	data, err := protocol.ReadArtifact(conn)
	if err != nil {
		return nil, fmt.Errorf("download artifact %d: %w", index, err)
	}

	return data, nil
}

// recoverAndRestart writes the recovery marker and triggers a full process
// restart. The restarted process resumes from the query step; the marker
// suppresses the pre-download purge and makes the downloads idempotent.
func (s *session) recoverAndRestart(ctx context.Context, cause error) bool {
	logger.WarnKV(ctx, "Descriptor exhaustion during download, restarting to recover", "error", cause)

	if err := s.markers.Set(); err != nil {
		return s.fail(ctx, fmt.Errorf("set recovery marker: %w", err))
	}

	if err := s.restarter.Restart(ctx); err != nil {
		return s.fail(ctx, fmt.Errorf("restart process: %w", err))
	}

	s.setState(ctx, stateFailed)

	return false
}

// isDescriptorExhaustion reports whether a transport failure was caused by
// running out of file descriptors, the one failure class that is recovered
// by restart-and-resume instead of a plain abort.
func isDescriptorExhaustion(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
