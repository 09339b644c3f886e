package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds connection and policy parameters shared by the courier binaries.
type Config struct {
	// ServerAddress is the control-channel address of the update server.
	// The data channel listens on the next port up.
	ServerAddress string `yaml:"server_addr"`
	// PackagesDir is the directory of package definitions served by the server.
	PackagesDir string `yaml:"packages_dir"`
	// Timeout bounds every network operation (connect, read, write).
	Timeout time.Duration `yaml:"timeout"`
	// MarkerFile is the durable recovery-marker path used by the client.
	MarkerFile string `yaml:"marker_file"`
	// PrimaryExtension is the file extension the client always re-fetches
	// during a recovering install, while other already-present files are
	// skipped. Kept configurable because the skip policy is a heuristic.
	PrimaryExtension string `yaml:"primary_extension"`
}

const (
	// DefaultConfigFilename is the default filename for courier settings.
	DefaultConfigFilename = "courier-settings.yaml"

	// DefaultPackagesDir is the default package-definition directory on the server.
	DefaultPackagesDir = "packages"

	// DefaultMarkerFilename is the default recovery-marker path on the client.
	DefaultMarkerFilename = "courier-installing.marker"

	// DefaultPrimaryExtension is the default always-refetch extension.
	DefaultPrimaryExtension = ".so"

	// DefaultTimeout is the default bound for network operations.
	DefaultTimeout = 10 * time.Second

	// DefaultFilePermissions is the default permission for files the tools write.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when the server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if _, err := DataAddress(cfg.ServerAddress); err != nil {
		return err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.PackagesDir == "" {
		cfg.PackagesDir = DefaultPackagesDir
	}

	if cfg.MarkerFile == "" {
		cfg.MarkerFile = DefaultMarkerFilename
	}

	if cfg.PrimaryExtension == "" {
		cfg.PrimaryExtension = DefaultPrimaryExtension
	}

	return nil
}

// DataAddress derives the data-channel address from a control-channel address.
// The data channel always sits one port above the control channel.
func DataAddress(controlAddress string) (string, error) {
	host, portString, err := net.SplitHostPort(controlAddress)
	if err != nil {
		return "", fmt.Errorf("invalid control address %q: %w", controlAddress, err)
	}

	port, err := strconv.Atoi(portString)
	if err != nil {
		return "", fmt.Errorf("invalid control port %q: %w", portString, err)
	}

	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}
