package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/plugin-courier/internal/protocol"
)

// Artifact is one resolved file (or directory sentinel) of a package,
// with its payload held in memory.
type Artifact struct {
	// Location is where the client should place the payload.
	Location protocol.InstallLocation
	// Data is the raw payload. Empty for directory sentinels.
	Data []byte
}

// Metadata is the resolved descriptive payload of a package.
type Metadata struct {
	// Images holds raw image blobs.
	Images [][]byte
	// Description is a short human-readable summary.
	Description string
	// Changelog is the release-notes text.
	Changelog string
}

// Package is a fully materialized, servable package. It owns copies of every
// artifact's bytes, loaded once per registry build.
type Package struct {
	// Name is the package name clients query by.
	Name string
	// Version is the published semantic version.
	Version *goversion.Version
	// MinHostVersion is the lowest host version the package supports.
	MinHostVersion *goversion.Version
	// Beta marks pre-release packages offered only to opted-in clients.
	Beta bool
	// Artifacts is the ordered servable artifact set.
	Artifacts []Artifact
	// Metadata carries the optional descriptive payload.
	Metadata Metadata
}

// PayloadSize returns the total artifact payload in bytes.
func (p *Package) PayloadSize() int {
	var total int
	for _, artifact := range p.Artifacts {
		total += len(artifact.Data)
	}

	return total
}

// Build scans root for package definitions and resolves each into a Package.
// Every immediate subdirectory must contain a manifest; a subdirectory whose
// manifest is missing, unparseable, or unresolvable contributes an error
// entry and is skipped. One bad definition never fails the whole build.
func Build(root string) ([]*Package, []error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, []error{fmt.Errorf("read packages directory: %w", err)}
	}

	var (
		packages []*Package
		failures []error
	)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		pkg, err := resolveDefinition(dir)
		if err != nil {
			failures = append(failures, fmt.Errorf("definition %s: %w", entry.Name(), err))
			continue
		}

		packages = append(packages, pkg)
	}

	return packages, failures
}

// resolveDefinition turns one definition directory into a servable Package.
func resolveDefinition(dir string) (*Package, error) {
	def, err := parseManifest(dir)
	if err != nil {
		return nil, err
	}

	artifacts, err := resolveFiles(dir, def.Files)
	if err != nil {
		return nil, err
	}

	// Folder trees land ahead of the plain file artifacts; each folder adds
	// one zero-length sentinel at the end so the client recreates the
	// destination root even when the folder carries no payload for it.
	for _, folder := range def.Folders {
		folderArtifacts, err := resolveFolder(dir, folder)
		if err != nil {
			return nil, err
		}

		artifacts = append(folderArtifacts, artifacts...)
		artifacts = append(artifacts, Artifact{Location: folder.InstallRootLocation})
	}

	return &Package{
		Name:           def.Name,
		Version:        def.version(),
		MinHostVersion: def.minHostVersion(),
		Beta:           def.Beta,
		Artifacts:      artifacts,
		Metadata:       resolveMetadata(dir, def.Metadata),
	}, nil
}

// resolveFiles loads every declared file into memory.
// A failed read fails the whole definition.
func resolveFiles(dir string, files []FileEntry) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(files))

	for _, file := range files {
		data, err := os.ReadFile(resolveSource(dir, file.SourcePath))
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", file.SourcePath, err)
		}

		artifacts = append(artifacts, Artifact{
			Location: file.InstallLocation,
			Data:     data,
		})
	}

	return artifacts, nil
}

// resolveFolder walks one folder tree and rewrites every regular file to sit
// under the folder's install root. Paths are made relative to the folder root
// itself; a walk entry that cannot be anchored there indicates a malformed
// tree layout and fails the whole definition.
func resolveFolder(dir string, folder FolderEntry) ([]Artifact, error) {
	installRoot, err := folder.InstallRootLocation.ResolvePath()
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", folder.RootName, err)
	}

	folderRoot := resolveSource(dir, folder.RootName)

	var artifacts []Artifact

	walkErr := filepath.WalkDir(folderRoot, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(folderRoot, filePath)
		if err != nil {
			return fmt.Errorf("cannot anchor %s under %s: %w", filePath, folderRoot, err)
		}

		if strings.HasPrefix(relative, "..") {
			return fmt.Errorf("%s escapes folder root %s", filePath, folderRoot)
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read folder file %s: %w", filePath, err)
		}

		artifacts = append(artifacts, Artifact{
			Location: protocol.AbsolutePath(path.Join(installRoot, filepath.ToSlash(relative))),
			Data:     data,
		})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk folder %s: %w", folder.RootName, walkErr)
	}

	return artifacts, nil
}

// resolveMetadata loads the optional descriptive payload best-effort.
// Missing or unreadable metadata files yield empty values, never an error.
func resolveMetadata(dir string, manifest *ManifestMetadata) Metadata {
	if manifest == nil {
		return Metadata{}
	}

	meta := Metadata{
		Description: manifest.Description,
	}

	for _, imagePath := range manifest.Images {
		data, err := os.ReadFile(resolveSource(dir, imagePath))
		if err != nil {
			data = nil
		}

		meta.Images = append(meta.Images, data)
	}

	if manifest.Changelog != "" {
		if data, err := os.ReadFile(resolveSource(dir, manifest.Changelog)); err == nil {
			meta.Changelog = string(data)
		}
	}

	return meta
}

// resolveSource resolves a manifest path against the definition directory
// unless it is already absolute.
func resolveSource(dir, source string) string {
	if filepath.IsAbs(source) {
		return filepath.Clean(source)
	}

	return filepath.Clean(filepath.Join(dir, source))
}
