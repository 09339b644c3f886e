// Package config loads, validates, and persists the YAML settings shared by
// the courier binaries: server addresses, the package-definition directory,
// network timeouts, and the client's recovery-marker and skip-policy options.
package config
