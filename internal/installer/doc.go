// Package installer holds the host-specific collaborators of the install
// flow: the Installer that persists artifacts and the Restarter invoked when
// a download aborts on descriptor exhaustion. Both are injected into the
// state machine, never compiled-in per target.
package installer
