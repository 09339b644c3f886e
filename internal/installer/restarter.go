package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// errUnsupportedOS is returned when the restart command for the host OS is unknown.
var errUnsupportedOS = errors.New("os not supported")

// Restarter triggers a full process restart after the recovery marker has
// been written. The restarted process resumes the install from the query
// step, with the marker suppressing the pre-download purge and making the
// per-artifact downloads idempotent.
type Restarter interface {
	Restart(ctx context.Context) error
}

// ExecRestarter relaunches the current executable with its original
// arguments. The caller is expected to abort its own run once Restart
// returns: the relaunched process takes over.
type ExecRestarter struct{}

// NewExecRestarter creates the default process restarter.
func NewExecRestarter() *ExecRestarter {
	return &ExecRestarter{}
}

// Restart launches a fresh instance of the current process. The launch is
// deliberately detached from the caller's context: the caller exits right
// after this returns and its signal context gets canceled, while the
// replacement must stay alive to resume the install.
func (r *ExecRestarter) Restart(_ context.Context) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	_, err = launchDetached(executable, os.Args[1:])

	return err
}

// launchDetached starts the executable as an independent process and
// releases the handle so exiting this process never reaps or kills it.
// Returns the child's pid.
func launchDetached(executable string, args []string) (int, error) {
	var cmd *exec.Cmd

	osLC := strings.ToLower(runtime.GOOS)
	switch {
	case strings.Contains(osLC, "linux") || strings.Contains(osLC, "darwin"):
		cmd = exec.Command(executable, args...)
	case strings.Contains(osLC, "windows"):
		cmdArgs := append([]string{"/C", "start", executable}, args...)
		cmd = exec.Command("cmd.exe", cmdArgs...)
	default:
		return 0, fmt.Errorf("%s: %w", runtime.GOOS, errUnsupportedOS)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", executable, err)
	}

	pid := cmd.Process.Pid

	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s: %w", executable, err)
	}

	return pid, nil
}
