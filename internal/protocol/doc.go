// Package protocol defines the wire vocabulary shared by the update client
// and server.
//
// The control channel carries one newline-terminated JSON Request and one
// JSON UpdateResponse whose end is signalled by connection close. The data
// channel carries an 8-byte big-endian download index followed by the raw
// artifact bytes. The protocol assumes a cooperative private network: there
// is no TLS and no authentication, so neither side should be exposed beyond
// trusted interfaces.
package protocol
