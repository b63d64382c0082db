package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/compcache"
	"github.com/hupe1980/compcache/model"
)

// RequestKind selects the operation a frame carries.
type RequestKind string

const (
	KindCompile   RequestKind = "compile"
	KindStats     RequestKind = "stats"
	KindZeroStats RequestKind = "zero_stats"
	KindShutdown  RequestKind = "shutdown"
)

// maxFrameSize bounds a single wire frame. Preprocessed sources and
// object files are large but not unbounded; anything past this is a
// protocol violation, not a legitimate request.
const maxFrameSize = 256 << 20

// ErrFrameTooLarge is returned when a peer sends an oversized frame.
var ErrFrameTooLarge = errors.New("server: frame exceeds maximum size")

// Request is the client-to-server message.
type Request struct {
	Kind       RequestKind       `json:"kind"`
	Invocation *model.Invocation `json:"invocation,omitempty"`
}

// CompileReply carries the result of a compile request.
type CompileReply struct {
	Result *model.CompileResult `json:"result"`
	Hit    bool                 `json:"hit"`
	Cached bool                 `json:"cached"`
}

// Response is the server-to-client message. Exactly one of the payload
// fields is set on success; Error is set instead when the request
// could not be served.
type Response struct {
	Kind    RequestKind              `json:"kind"`
	Error   string                   `json:"error,omitempty"`
	Compile *CompileReply            `json:"compile,omitempty"`
	Stats   *compcache.StatsSnapshot `json:"stats,omitempty"`
}

// writeFrame sends one length-prefixed JSON message.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}

	var hdr [4]byte

	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	_, err = w.Write(body)

	return err
}

// readFrame receives one length-prefixed JSON message into v.
func readFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("server: decode frame: %w", err)
	}

	return nil
}
