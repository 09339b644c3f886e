package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/registry"
)

// Options controls the courier-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// PackagesDir overrides the package-definition directory from the config.
	PackagesDir string
	// ListenAddress overrides the control listen address from the config.
	ListenAddress string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run builds the registry, starts the control and data listeners, and blocks
// until the context is canceled. SIGHUP triggers a wholesale registry rebuild
// without a restart.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "courier-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	packagesDir := settings.PackagesDir
	if opts.PackagesDir != "" {
		packagesDir = opts.PackagesDir
	}

	controlAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	dataAddress, err := config.DataAddress(controlAddress)
	if err != nil {
		return fmt.Errorf("resolve data address: %w", err)
	}

	reg := registry.NewRegistry(packagesDir)
	reg.Rebuild(ctx)

	logger.InfoKV(ctx, "Registry built",
		"packages_dir", packagesDir,
		"packages", reg.Len(),
		"rejected", len(reg.Failures()))

	svc := newService(reg, settings.Timeout)

	lc := net.ListenConfig{}

	controlListener, err := lc.Listen(ctx, "tcp", controlAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", controlAddress, err)
	}

	dataListener, err := lc.Listen(ctx, "tcp", dataAddress)
	if err != nil {
		_ = controlListener.Close()

		return fmt.Errorf("listen on %s: %w", dataAddress, err)
	}

	logger.InfoKV(ctx, "Update server listening",
		"control_address", controlAddress,
		"data_address", dataAddress)

	// Rebuild on SIGHUP so operators can publish new packages in place.
	rebuildSignals := make(chan os.Signal, 1)
	signal.Notify(rebuildSignals, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(rebuildSignals)
				return
			case <-rebuildSignals:
				logger.Info(ctx, "Rebuilding registry on SIGHUP")
				reg.Rebuild(ctx)
				logger.InfoKV(ctx, "Registry rebuilt", "packages", reg.Len(), "rejected", len(reg.Failures()))
			}
		}
	}()

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		acceptLoop(ctx, controlListener, svc.handleControl)
	}()

	go func() {
		defer wg.Done()
		acceptLoop(ctx, dataListener, svc.handleData)
	}()

	<-ctx.Done()
	logger.Info(ctx, "Shutting down update server")

	_ = controlListener.Close()
	_ = dataListener.Close()

	wg.Wait()
	logger.Info(ctx, "Update server stopped")

	return nil
}

// acceptLoop serves one listener, handing each connection to its own goroutine.
// Each exchange is a single blocking request-response; concurrency exists only
// across independent connections.
func acceptLoop(ctx context.Context, listener net.Listener, handle func(context.Context, net.Conn)) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			logger.Errorf(ctx, "Failed to accept connection: %v", err)

			continue
		}

		go handle(ctx, conn)
	}
}

// resolveListenAddress determines the control listen address.
// An override is used directly; otherwise only the port of the configured
// server address is bound, on all interfaces.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return ":" + port, nil
}
