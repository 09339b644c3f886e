package registry

import (
	"context"
	"sync"

	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/protocol"
)

// Served couples a resolved package with the download entries advertised for
// it. Entry indices are assigned per rebuild and invalidated wholesale by the
// next one; clients must treat them as response-scoped.
type Served struct {
	// Package is the resolved package record.
	Package *Package
	// Entries is the ordered artifact list sent in update responses.
	Entries []protocol.ArtifactEntry
}

// Registry owns the servable package set for the lifetime of the server
// process. It is rebuilt wholesale on demand; once built, the set is
// read-only and safe to read from concurrent handler connections.
type Registry struct {
	// root is the package-definition directory.
	root string

	// mu guards the swap of the resolved set.
	mu sync.RWMutex
	// packages maps package names to their served records.
	packages map[string]*Served
	// artifacts is the flat download-index table across all packages.
	artifacts []Artifact
	// failures holds the per-definition errors of the last rebuild.
	failures []error
}

// NewRegistry creates an empty registry over the provided definition directory.
// Call Rebuild to load it.
func NewRegistry(root string) *Registry {
	return &Registry{
		root:     root,
		packages: make(map[string]*Served),
	}
}

// Rebuild scans the definition directory and swaps in the freshly resolved
// set. Per-definition failures are logged and excluded from the servable set;
// they never fail the rebuild.
func (r *Registry) Rebuild(ctx context.Context) {
	packages, failures := Build(r.root)

	for _, err := range failures {
		logger.ErrorKV(ctx, "Package definition rejected", "error", err)
	}

	served := make(map[string]*Served, len(packages))

	var artifacts []Artifact

	for _, pkg := range packages {
		entries := make([]protocol.ArtifactEntry, 0, len(pkg.Artifacts))

		for _, artifact := range pkg.Artifacts {
			entries = append(entries, protocol.ArtifactEntry{
				InstallLocation: artifact.Location,
				DownloadIndex:   uint64(len(artifacts)),
			})

			artifacts = append(artifacts, artifact)
		}

		served[pkg.Name] = &Served{
			Package: pkg,
			Entries: entries,
		}

		logger.InfoKV(ctx, "Package registered",
			"name", pkg.Name,
			"version", pkg.Version.Original(),
			"beta", pkg.Beta,
			"artifacts", len(pkg.Artifacts),
			"payload_bytes", pkg.PayloadSize())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.packages = served
	r.artifacts = artifacts
	r.failures = failures
}

// Lookup returns the served record for a package name.
func (r *Registry) Lookup(name string) (*Served, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	served, ok := r.packages[name]

	return served, ok
}

// Artifact returns the artifact behind a download index.
func (r *Registry) Artifact(index uint64) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= uint64(len(r.artifacts)) {
		return Artifact{}, false
	}

	return r.artifacts[index], true
}

// Len returns the number of servable packages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.packages)
}

// Failures returns the per-definition errors of the last rebuild.
func (r *Registry) Failures() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.failures
}
