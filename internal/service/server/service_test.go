package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/plugin-courier/internal/protocol"
	"github.com/oshokin/plugin-courier/internal/registry"
)

// buildTestRegistry creates a registry serving one "demo" package at 1.5.0
// and one beta-only "edge" package.
func buildTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	root := t.TempDir()

	demo := filepath.Join(root, "demo")
	require.NoError(t, os.MkdirAll(demo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(demo, "demo.so"), []byte("demo-payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(demo, registry.ManifestFilename), []byte(`
name: demo
version: 1.5.0
files:
  - install_location: {type: absolute_path, path: /opt/demo/demo.so}
    source_path: demo.so
`), 0o644))

	edge := filepath.Join(root, "edge")
	require.NoError(t, os.MkdirAll(edge, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(edge, registry.ManifestFilename), []byte(`
name: edge
version: 2.0.0-rc.1
beta: true
`), 0o644))

	reg := registry.NewRegistry(root)
	reg.Rebuild(context.Background())

	return reg
}

// TestRespond_Codes covers the version-decision rules of the control channel.
func TestRespond_Codes(t *testing.T) {
	t.Parallel()

	svc := newService(buildTestRegistry(t), time.Second)

	// Unknown package name is plugin_not_found, never no_update.
	got := svc.respond(protocol.NewUpdateRequest("absent", "1.0.0", false))
	require.Equal(t, protocol.CodePluginNotFound, got.Code)

	// Equal versions yield no update.
	got = svc.respond(protocol.NewUpdateRequest("demo", "1.5.0", false))
	require.Equal(t, protocol.CodeNoUpdate, got.Code)

	// Newer client yields no update.
	got = svc.respond(protocol.NewUpdateRequest("demo", "2.0.0", false))
	require.Equal(t, protocol.CodeNoUpdate, got.Code)

	// Unparseable client version is an invalid request.
	got = svc.respond(protocol.NewUpdateRequest("demo", "not-a-version", false))
	require.Equal(t, protocol.CodeInvalidRequest, got.Code)

	// Older client gets the update with the registry's artifact order.
	served, ok := svc.registry.Lookup("demo")
	require.True(t, ok)

	got = svc.respond(protocol.NewUpdateRequest("demo", "0.9.0", false))
	require.Equal(t, protocol.CodeUpdate, got.Code)
	require.Equal(t, "1.5.0", got.PluginVersion)
	require.Equal(t, served.Entries, got.RequiredFiles)

	// Beta releases are withheld unless the client opts in.
	got = svc.respond(protocol.NewUpdateRequest("edge", "1.0.0", false))
	require.Equal(t, protocol.CodeNoUpdate, got.Code)

	got = svc.respond(protocol.NewUpdateRequest("edge", "1.0.0", true))
	require.Equal(t, protocol.CodeUpdate, got.Code)
	require.Equal(t, "2.0.0-rc.1", got.PluginVersion)
}

// TestHandleControl_MalformedRequest ensures garbage on the control channel
// is answered with invalid_request instead of a dropped connection.
func TestHandleControl_MalformedRequest(t *testing.T) {
	t.Parallel()

	svc := newService(buildTestRegistry(t), time.Second)

	clientConn, serverConn := net.Pipe()

	go svc.handleControl(context.Background(), serverConn)

	_, err := clientConn.Write([]byte("not json\n"))
	require.NoError(t, err)

	response, err := protocol.ReadResponse(clientConn)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeInvalidRequest, response.Code)
}

// TestHandleData_StreamsArtifact exercises one data-channel exchange.
func TestHandleData_StreamsArtifact(t *testing.T) {
	t.Parallel()

	reg := buildTestRegistry(t)
	svc := newService(reg, time.Second)

	served, ok := reg.Lookup("demo")
	require.True(t, ok)
	require.Len(t, served.Entries, 1)

	clientConn, serverConn := net.Pipe()

	go svc.handleData(context.Background(), serverConn)

	require.NoError(t, protocol.WriteDownloadIndex(clientConn, served.Entries[0].DownloadIndex))

	body := make([]byte, 0, 32)
	buf := make([]byte, 32)

	for {
		n, readErr := clientConn.Read(buf)
		body = append(body, buf[:n]...)

		if readErr != nil {
			break
		}
	}

	require.Equal(t, "demo-payload", string(body))
}

// TestHandleData_StaleIndexResetsConnection ensures an index the registry no
// longer knows is answered with a failed read, never a clean zero-byte body
// that the client would mistake for a directory sentinel.
func TestHandleData_StaleIndexResetsConnection(t *testing.T) {
	t.Parallel()

	svc := newService(buildTestRegistry(t), time.Second)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer func() {
		_ = listener.Close()
	}()

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}

		svc.handleData(context.Background(), conn)
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
	}()

	require.NoError(t, protocol.WriteDownloadIndex(conn, 9999))

	_, err = io.ReadAll(conn)
	require.Error(t, err)
}
