package server

import (
	"context"
	"net"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/protocol"
	"github.com/oshokin/plugin-courier/internal/registry"
)

// service answers control and data exchanges from the registry.
// The registry is read-only between rebuilds, so handler connections may
// read it concurrently without coordination beyond the registry's own swap.
type service struct {
	// registry is the servable package set.
	registry *registry.Registry
	// timeout bounds every read and write on a handler connection.
	timeout time.Duration
}

// newService wires the registry into the connection handlers.
func newService(reg *registry.Registry, timeout time.Duration) *service {
	return &service{
		registry: reg,
		timeout:  timeout,
	}
}

// handleControl performs one version-query exchange and closes the connection.
// The connection close is what signals the end of the response to the client.
func (s *service) handleControl(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		logger.Errorf(ctx, "Failed to set control deadline: %v", err)
		return
	}

	request, err := protocol.ReadRequest(conn)
	if err != nil {
		logger.WarnKV(ctx, "Malformed control request", "remote", conn.RemoteAddr(), "error", err)

		s.writeResponse(ctx, conn, &protocol.UpdateResponse{Code: protocol.CodeInvalidRequest})

		return
	}

	response := s.respond(request)

	logger.InfoKV(ctx, "Version query answered",
		"plugin", request.PluginName,
		"client_version", request.PluginVersion,
		"beta", request.AllowsBeta(),
		"code", response.Code)

	s.writeResponse(ctx, conn, response)
}

// respond applies the version-decision rules to one request.
func (s *service) respond(request *protocol.Request) *protocol.UpdateResponse {
	served, ok := s.registry.Lookup(request.PluginName)
	if !ok {
		return &protocol.UpdateResponse{
			Code:       protocol.CodePluginNotFound,
			PluginName: request.PluginName,
		}
	}

	clientVersion, err := goversion.NewSemver(request.PluginVersion)
	if err != nil {
		return &protocol.UpdateResponse{
			Code:       protocol.CodeInvalidRequest,
			PluginName: request.PluginName,
		}
	}

	pkg := served.Package

	noUpdate := &protocol.UpdateResponse{
		Code:          protocol.CodeNoUpdate,
		PluginName:    pkg.Name,
		PluginVersion: pkg.Version.Original(),
	}

	if pkg.Beta && !request.AllowsBeta() {
		return noUpdate
	}

	if pkg.Version.LessThanOrEqual(clientVersion) {
		return noUpdate
	}

	return &protocol.UpdateResponse{
		Code:          protocol.CodeUpdate,
		PluginName:    pkg.Name,
		PluginVersion: pkg.Version.Original(),
		RequiredFiles: served.Entries,
		Metadata:      responseMetadata(pkg),
	}
}

// responseMetadata converts registry metadata into the wire shape,
// omitting it entirely when the package carries none.
func responseMetadata(pkg *registry.Package) *protocol.Metadata {
	meta := pkg.Metadata
	if meta.Description == "" && meta.Changelog == "" && len(meta.Images) == 0 {
		return nil
	}

	return &protocol.Metadata{
		Description: meta.Description,
		Changelog:   meta.Changelog,
		Images:      meta.Images,
	}
}

// writeResponse serializes one response and reports failures.
func (s *service) writeResponse(ctx context.Context, conn net.Conn, response *protocol.UpdateResponse) {
	if err := protocol.WriteResponse(conn, response); err != nil {
		logger.ErrorKV(ctx, "Failed to write response", "remote", conn.RemoteAddr(), "error", err)
	}
}

// handleData performs one artifact transfer and closes the connection.
func (s *service) handleData(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		logger.Errorf(ctx, "Failed to set data deadline: %v", err)
		return
	}

	index, err := protocol.ReadDownloadIndex(conn)
	if err != nil {
		logger.WarnKV(ctx, "Malformed data request", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	artifact, ok := s.registry.Artifact(index)
	if !ok {
		// A clean zero-byte close is indistinguishable from an empty artifact
		// (a directory sentinel) under the close-signals-end framing. A stale
		// index, such as a rebuild racing an in-flight install, must fail the
		// client's read instead, so the close is turned into a reset.
		logger.WarnKV(ctx, "Unknown download index requested", "remote", conn.RemoteAddr(), "index", index)
		abortConnection(conn)

		return
	}

	if _, err = conn.Write(artifact.Data); err != nil {
		logger.ErrorKV(ctx, "Failed to stream artifact", "index", index, "error", err)
		return
	}

	logger.DebugKV(ctx, "Artifact streamed", "index", index, "bytes", len(artifact.Data))
}

// abortConnection arranges for the following close to send a reset instead
// of a graceful shutdown. Connections that cannot be reset just close.
func abortConnection(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
}
