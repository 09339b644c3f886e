package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResponseCode tells the client how to proceed after a version query.
// Exactly one code is carried per response.
type ResponseCode string

const (
	// CodeUpdate means a newer applicable release exists and the response
	// carries the full artifact list.
	CodeUpdate ResponseCode = "update"
	// CodeNoUpdate means the client is already current (or the release is
	// beta and the client did not opt in).
	CodeNoUpdate ResponseCode = "no_update"
	// CodeInvalidRequest means the server could not parse the request.
	CodeInvalidRequest ResponseCode = "invalid_request"
	// CodePluginNotFound means the named package is not in the registry.
	CodePluginNotFound ResponseCode = "plugin_not_found"
	// CodeUnknown is the catch-all for responses the client cannot interpret.
	CodeUnknown ResponseCode = "unknown"
)

// LocationKind discriminates InstallLocation variants.
type LocationKind string

// KindAbsolutePath is the only location variant with defined install
// semantics. Further variants are reserved; decoding them fails so they are
// never silently mishandled.
const KindAbsolutePath LocationKind = "absolute_path"

// ErrUnsupportedLocation is returned when an install location carries a
// reserved or unknown variant.
var ErrUnsupportedLocation = errors.New("unsupported install location")

// InstallLocation describes where an artifact should be placed.
// The YAML tags cover package manifests, which reuse the wire shape.
type InstallLocation struct {
	// Kind selects the variant.
	Kind LocationKind `yaml:"type"`
	// Path is the destination for the absolute-path variant.
	Path string `yaml:"path"`
}

// AbsolutePath builds the absolute-path location variant.
func AbsolutePath(path string) InstallLocation {
	return InstallLocation{
		Kind: KindAbsolutePath,
		Path: path,
	}
}

// ResolvePath returns the destination path for locations the client can
// install, or ErrUnsupportedLocation for reserved variants.
func (l InstallLocation) ResolvePath() (string, error) {
	if l.Kind != KindAbsolutePath {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocation, l.Kind)
	}

	return l.Path, nil
}

// wireLocation is the JSON shape of InstallLocation.
type wireLocation struct {
	Type LocationKind `json:"type"`
	Path string       `json:"path,omitempty"`
}

// MarshalJSON encodes the location as a tagged variant.
func (l InstallLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireLocation{
		Type: l.Kind,
		Path: l.Path,
	})
}

// UnmarshalJSON decodes a tagged variant, rejecting reserved kinds.
func (l *InstallLocation) UnmarshalJSON(data []byte) error {
	var wire wireLocation
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	if wire.Type != KindAbsolutePath {
		return fmt.Errorf("%w: %q", ErrUnsupportedLocation, wire.Type)
	}

	l.Kind = wire.Type
	l.Path = wire.Path

	return nil
}

// ArtifactEntry names one artifact of an update and the index used to fetch
// its bytes over the data channel. The index is scoped to the response that
// carried it and must not be persisted across queries.
type ArtifactEntry struct {
	InstallLocation InstallLocation `json:"install_location"`
	DownloadIndex   uint64          `json:"download_index"`
}

// Metadata is the optional descriptive payload attached to update responses.
type Metadata struct {
	// Description is a short human-readable package summary.
	Description string `json:"description,omitempty"`
	// Changelog is the release-notes text for the offered version.
	Changelog string `json:"changelog,omitempty"`
	// Images holds raw image blobs (base64 on the wire).
	Images [][]byte `json:"images,omitempty"`
}

// UpdateResponse is the single object the server writes back on the control
// channel. Ordering of RequiredFiles is significant: artifacts are fetched
// and installed in exactly this order.
type UpdateResponse struct {
	Code          ResponseCode    `json:"code"`
	PluginName    string          `json:"plugin_name"`
	PluginVersion string          `json:"plugin_version,omitempty"`
	RequiredFiles []ArtifactEntry `json:"required_files"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// RequestTypeUpdate is the only request type the control channel accepts.
const RequestTypeUpdate = "Update"

// Request is the version-query object the client sends on the control
// channel, terminated by a newline.
type Request struct {
	Type          string          `json:"type"`
	PluginName    string          `json:"plugin_name"`
	PluginVersion string          `json:"plugin_version"`
	Beta          *bool           `json:"beta"`
	Options       json.RawMessage `json:"options"`
}

// NewUpdateRequest builds a version-query request.
func NewUpdateRequest(pluginName, pluginVersion string, allowBeta bool) *Request {
	return &Request{
		Type:          RequestTypeUpdate,
		PluginName:    pluginName,
		PluginVersion: pluginVersion,
		Beta:          &allowBeta,
	}
}

// AllowsBeta reports whether the client opted in to beta releases.
// An absent beta field counts as opting out.
func (r *Request) AllowsBeta() bool {
	return r.Beta != nil && *r.Beta
}
