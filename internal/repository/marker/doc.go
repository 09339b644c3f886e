// Package marker implements the durable recovery marker of the install flow.
//
// The FileStore keeps the marker as an existence-only file and exposes a
// Store interface the install state machine depends on, so the state machine
// stays testable without real storage.
package marker
