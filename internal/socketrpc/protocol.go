package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/tideline/internal/zoom"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the timeline model of the open case over a
// Unix domain socket, one JSON request or response per line.
//
//   Method              Params                                 Result
//   ────────────────    ─────────────────────────────────────  ──────────────────────────
//   ZoomState           (none)                                 ZoomView
//   EventByID           {ID: int64}                            model.Event
//   EventCounts         {Start, End: int64}                    map[EventTypeID]int64
//   SpanningInterval    (none)                                 model.Interval
//   EventIDs            {Start, End: int64, Text: string}      []int64
//   PushTimeRange       {Start, End: int64}                    bool (changed)
//   PushTypeLevel       {Level: "root"|"category"|"event"}     bool (changed)
//   Advance             (none)                                 ZoomView
//   Retreat             (none)                                 ZoomView
//   InvalidateCaches    {EventIDs: []int64}                    bool
//
// EventCounts and EventIDs use the current zoom range when Start and End are
// both zero. InvalidateCaches with no EventIDs drops every cached event.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (model or store failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// ZoomView is the current zoom state with its navigation flags.
type ZoomView struct {
	State      zoom.State `json:"state"`
	CanAdvance bool       `json:"canAdvance"`
	CanRetreat bool       `json:"canRetreat"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/tideline/tideline.sock, falling back to
// ~/.local/state/tideline/tideline.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tideline", "tideline.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/tideline.sock"
	}
	return filepath.Join(home, ".local", "state", "tideline", "tideline.sock")
}
