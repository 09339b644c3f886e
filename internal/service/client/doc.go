// Package client implements the install state machine: it queries the update
// server over the control channel, fetches artifacts over the data channel in
// response order, and hands each one to an injected installer. A durable
// recovery marker makes interrupted installs resumable across process
// restarts.
package client
