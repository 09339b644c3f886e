package packager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/registry"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// PackagesDir is the directory whose package definitions are validated.
	PackagesDir string
}

// errValidationFailed indicates that at least one package definition could
// not be resolved.
var errValidationFailed = errors.New("package validation failed")

// Run resolves every package definition under the packages directory exactly
// the way the server does on startup, reports the result, and fails if any
// definition is broken. Running it before publishing catches manifest
// mistakes without bouncing the server.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "courier-packager")

	logger.InfoKV(ctx, "Validating package definitions", "dir", opts.PackagesDir)

	packages, failures := registry.Build(opts.PackagesDir)

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})

	for _, pkg := range packages {
		reportPackage(ctx, pkg)
	}

	for _, failure := range failures {
		logger.ErrorKV(ctx, "Broken package definition", "error", failure)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %d of %d definitions broken",
			errValidationFailed, len(failures), len(failures)+len(packages))
	}

	logger.InfoKV(ctx, "All package definitions are valid", "packages", len(packages))

	return nil
}

// reportPackage logs one resolved package summary.
func reportPackage(ctx context.Context, pkg *registry.Package) {
	logger.InfoKV(ctx, "Package resolved",
		"name", pkg.Name,
		"version", pkg.Version.Original(),
		"beta", pkg.Beta,
		"artifacts", len(pkg.Artifacts),
		"payload_bytes", pkg.PayloadSize())
}
