// Package server runs the update server: it builds the package registry and
// serves the version-query control channel and the artifact-transfer data
// channel on two adjacent TCP ports.
package server
