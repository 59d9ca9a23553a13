package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/tideline/internal/model"
)

const defaultCallTimeout = 30 * time.Second

// Client calls a timeline socket server. It is safe for concurrent use;
// calls on one connection are serialized.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest. The
// connection deadline is ctx's deadline, or defaultCallTimeout.
func (c *Client) call(ctx context.Context, method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) ZoomState(ctx context.Context) (ZoomView, error) {
	var result ZoomView
	err := c.call(ctx, "ZoomState", nil, &result)
	return result, err
}

func (c *Client) EventByID(ctx context.Context, id int64) (model.Event, error) {
	var result model.Event
	err := c.call(ctx, "EventByID", map[string]any{"ID": id}, &result)
	return result, err
}

// EventCounts counts events by type in r; the zero interval means the
// server's current zoom range.
func (c *Client) EventCounts(ctx context.Context, r model.Interval) (map[model.EventTypeID]int64, error) {
	var result map[model.EventTypeID]int64
	err := c.call(ctx, "EventCounts", map[string]any{"Start": r.Start, "End": r.End}, &result)
	return result, err
}

func (c *Client) SpanningInterval(ctx context.Context) (model.Interval, error) {
	var result model.Interval
	err := c.call(ctx, "SpanningInterval", nil, &result)
	return result, err
}

// EventIDs lists the events in r matching the current filter and, when
// text is set, containing text.
func (c *Client) EventIDs(ctx context.Context, r model.Interval, text string) ([]int64, error) {
	var result []int64
	err := c.call(ctx, "EventIDs", map[string]any{"Start": r.Start, "End": r.End, "Text": text}, &result)
	return result, err
}

func (c *Client) PushTimeRange(ctx context.Context, r model.Interval) (bool, error) {
	var result bool
	err := c.call(ctx, "PushTimeRange", map[string]any{"Start": r.Start, "End": r.End}, &result)
	return result, err
}

func (c *Client) PushTypeLevel(ctx context.Context, level model.HierarchyLevel) (bool, error) {
	var result bool
	err := c.call(ctx, "PushTypeLevel", map[string]any{"Level": level.String()}, &result)
	return result, err
}

func (c *Client) Advance(ctx context.Context) (ZoomView, error) {
	var result ZoomView
	err := c.call(ctx, "Advance", nil, &result)
	return result, err
}

func (c *Client) Retreat(ctx context.Context) (ZoomView, error) {
	var result ZoomView
	err := c.call(ctx, "Retreat", nil, &result)
	return result, err
}

// InvalidateCaches drops the given events from the server's caches, or
// every cached event when ids is nil.
func (c *Client) InvalidateCaches(ctx context.Context, ids []int64) error {
	return c.call(ctx, "InvalidateCaches", map[string]any{"EventIDs": ids}, nil)
}
