package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRequestRoundtrip exercises the newline-terminated request codec.
func TestRequestRoundtrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	req := NewUpdateRequest("demo", "1.2.3-beta.1", true)
	require.NoError(t, WriteRequest(&buf, req))
	require.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, "demo", got.PluginName)
	require.Equal(t, "1.2.3-beta.1", got.PluginVersion)
	require.True(t, got.AllowsBeta())
}

// TestReadRequest_UnknownType rejects request types the server does not speak.
func TestReadRequest_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := ReadRequest(bytes.NewBufferString(`{"type":"Upload"}` + "\n"))
	require.ErrorIs(t, err, ErrUnknownRequestType)
}

// TestResponseRoundtrip verifies that artifact ordering survives the codec.
func TestResponseRoundtrip(t *testing.T) {
	t.Parallel()

	resp := &UpdateResponse{
		Code:          CodeUpdate,
		PluginName:    "demo",
		PluginVersion: "2.0.0",
		RequiredFiles: []ArtifactEntry{
			{InstallLocation: AbsolutePath("a/first"), DownloadIndex: 7},
			{InstallLocation: AbsolutePath("a/second"), DownloadIndex: 3},
		},
		Metadata: &Metadata{Description: "demo package"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, CodeUpdate, got.Code)
	require.Len(t, got.RequiredFiles, 2)
	require.Equal(t, uint64(7), got.RequiredFiles[0].DownloadIndex)
	require.Equal(t, "a/first", got.RequiredFiles[0].InstallLocation.Path)
	require.Equal(t, uint64(3), got.RequiredFiles[1].DownloadIndex)
}

// TestInstallLocation_RejectsReservedVariants ensures unknown location kinds
// fail decoding instead of being mishandled.
func TestInstallLocation_RejectsReservedVariants(t *testing.T) {
	t.Parallel()

	var loc InstallLocation

	err := loc.UnmarshalJSON([]byte(`{"type":"relative_path","path":"x"}`))
	require.ErrorIs(t, err, ErrUnsupportedLocation)

	_, err = InstallLocation{Kind: "relative_path"}.ResolvePath()
	require.ErrorIs(t, err, ErrUnsupportedLocation)
}

// TestDownloadIndexRoundtrip verifies the fixed 8-byte big-endian framing.
func TestDownloadIndexRoundtrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, WriteDownloadIndex(&buf, 0x0102030405060708))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf.Bytes())

	got, err := ReadDownloadIndex(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), got)
}

// TestReadAllLimited_RejectsOversizedBody ensures a body past the limit
// fails instead of being silently truncated to a corrupt payload.
func TestReadAllLimited_RejectsOversizedBody(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 64)

	data, err := readAllLimited(bytes.NewReader(payload), 64)
	require.NoError(t, err)
	require.Len(t, data, 64)

	_, err = readAllLimited(bytes.NewReader(payload), 63)
	require.ErrorIs(t, err, ErrResponseTooLarge)
}

// TestReadArtifact reads one data-channel body to EOF.
func TestReadArtifact(t *testing.T) {
	t.Parallel()

	data, err := ReadArtifact(bytes.NewBufferString("artifact bytes"))
	require.NoError(t, err)
	require.Equal(t, "artifact bytes", string(data))
}
