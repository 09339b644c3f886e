package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxRequestSize caps control-channel requests to protect the server
	// against oversized or unterminated payloads.
	MaxRequestSize = 64 * 1024

	// MaxResponseSize caps control-channel responses on the client side.
	MaxResponseSize = 256 * 1024 * 1024

	// downloadIndexSize is the fixed width of a data-channel request.
	downloadIndexSize = 8
)

var (
	// ErrRequestTooLarge is returned when a control request exceeds MaxRequestSize.
	ErrRequestTooLarge = errors.New("request exceeds size limit")
	// ErrResponseTooLarge is returned when a response or artifact body exceeds
	// MaxResponseSize. Oversized bodies must fail loudly: a truncated artifact
	// would otherwise be installed as a corrupt file.
	ErrResponseTooLarge = errors.New("response exceeds size limit")
	// ErrUnknownRequestType is returned for request types the server does not speak.
	ErrUnknownRequestType = errors.New("unknown request type")
)

// WriteRequest serializes the request and terminates it with a newline.
func WriteRequest(w io.Writer, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	data = append(data, '\n')

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	return nil
}

// ReadRequest reads one newline-terminated request from the reader.
func ReadRequest(r io.Reader) (*Request, error) {
	line, err := bufio.NewReader(io.LimitReader(r, MaxRequestSize+1)).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > MaxRequestSize {
			return nil, ErrRequestTooLarge
		}

		return nil, fmt.Errorf("read request: %w", err)
	}

	var req Request
	if err = json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	if req.Type != RequestTypeUpdate {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, req.Type)
	}

	return &req, nil
}

// WriteResponse serializes the response. No delimiter is written: closing the
// connection signals the end of the message.
func WriteResponse(w io.Writer, resp *UpdateResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

// ReadResponse consumes the reader to EOF and decodes a single response.
func ReadResponse(r io.Reader) (*UpdateResponse, error) {
	data, err := readAllLimited(r, MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp UpdateResponse
	if err = json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}

// ReadArtifact consumes one data-channel body to EOF.
func ReadArtifact(r io.Reader) ([]byte, error) {
	data, err := readAllLimited(r, MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	return data, nil
}

// readAllLimited reads the whole body, reporting ErrResponseTooLarge instead
// of silently truncating bodies beyond the limit. It reads one byte past the
// limit to tell "exactly at the limit" apart from "over it".
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}

	return data, nil
}

// WriteDownloadIndex writes the 8-byte big-endian artifact index that opens
// a data-channel exchange.
func WriteDownloadIndex(w io.Writer, index uint64) error {
	var buf [downloadIndexSize]byte

	binary.BigEndian.PutUint64(buf[:], index)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write download index: %w", err)
	}

	return nil
}

// ReadDownloadIndex reads exactly 8 bytes and decodes the artifact index.
func ReadDownloadIndex(r io.Reader) (uint64, error) {
	var buf [downloadIndexSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read download index: %w", err)
	}

	return binary.BigEndian.Uint64(buf[:]), nil
}
