package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/plugin-courier/internal/protocol"
)

// ManifestFilename is the manifest every package definition directory must contain.
const ManifestFilename = "package.yaml"

// lowestVersion is the default minimum host version when a manifest omits one.
const lowestVersion = "0.0.0"

var (
	// ErrManifestNotFound is reported for definition directories without a manifest.
	ErrManifestNotFound = errors.New("manifest not found")
	// errNameRequired is reported for manifests without a package name.
	errNameRequired = errors.New("package name is required")
	// errVersionRequired is reported for manifests without a version.
	errVersionRequired = errors.New("package version is required")
)

// FileEntry declares one concrete file of a package definition.
// SourcePath is resolved against the definition's own directory when relative.
type FileEntry struct {
	InstallLocation protocol.InstallLocation `yaml:"install_location"`
	SourcePath      string                   `yaml:"source_path"`
}

// FolderEntry declares a whole directory tree to flatten at build time.
// Every file found under RootName is rewritten to sit under InstallRootLocation.
type FolderEntry struct {
	InstallRootLocation protocol.InstallLocation `yaml:"install_root_location"`
	RootName            string                   `yaml:"root_name"`
}

// ManifestMetadata carries the optional descriptive fields of a manifest.
// Everything here is loaded best-effort and never fails a definition.
type ManifestMetadata struct {
	// Images lists paths of image files to embed.
	Images []string `yaml:"images"`
	// Description is a short human-readable summary.
	Description string `yaml:"description"`
	// Changelog is the path of a release-notes text file.
	Changelog string `yaml:"changelog"`
}

// Definition is a parsed package manifest before resolution.
type Definition struct {
	Name           string            `yaml:"name"`
	Version        string            `yaml:"version"`
	Beta           bool              `yaml:"beta"`
	Files          []FileEntry       `yaml:"files"`
	Folders        []FolderEntry     `yaml:"folders"`
	MinHostVersion string            `yaml:"min_host_version"`
	Metadata       *ManifestMetadata `yaml:"metadata"`
}

// parseManifest reads and validates the manifest of one definition directory.
func parseManifest(dir string) (*Definition, error) {
	manifestPath := filepath.Join(dir, ManifestFilename)

	contents, err := os.ReadFile(filepath.Clean(manifestPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, manifestPath)
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var def Definition
	if err = yaml.Unmarshal(contents, &def); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err = def.validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// validate checks required manifest fields and location variants.
func (d *Definition) validate() error {
	if d.Name == "" {
		return errNameRequired
	}

	if d.Version == "" {
		return errVersionRequired
	}

	if _, err := goversion.NewSemver(d.Version); err != nil {
		return fmt.Errorf("version %q: %w", d.Version, err)
	}

	if d.MinHostVersion != "" {
		if _, err := goversion.NewSemver(d.MinHostVersion); err != nil {
			return fmt.Errorf("min host version %q: %w", d.MinHostVersion, err)
		}
	}

	for _, file := range d.Files {
		if _, err := file.InstallLocation.ResolvePath(); err != nil {
			return fmt.Errorf("file %s: %w", file.SourcePath, err)
		}
	}

	for _, folder := range d.Folders {
		if _, err := folder.InstallRootLocation.ResolvePath(); err != nil {
			return fmt.Errorf("folder %s: %w", folder.RootName, err)
		}
	}

	return nil
}

// version returns the parsed package version.
func (d *Definition) version() *goversion.Version {
	v, _ := goversion.NewSemver(d.Version)

	return v
}

// minHostVersion returns the parsed minimum host version, defaulting to the
// lowest version when absent.
func (d *Definition) minHostVersion() *goversion.Version {
	raw := d.MinHostVersion
	if raw == "" {
		raw = lowestVersion
	}

	v, _ := goversion.NewSemver(raw)

	return v
}
