package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum request size the scanner will accept (4 MB).
	scannerMaxTokenSize = 4 * 1024 * 1024
)

// Timeline is the part of the timeline model served over the socket.
type Timeline interface {
	ZoomState() zoom.State
	CanAdvance() bool
	CanRetreat() bool
	EventByID(ctx context.Context, id int64) (model.Event, error)
	EventCounts(ctx context.Context, r model.Interval) (map[model.EventTypeID]int64, error)
	SpanningInterval(ctx context.Context) (model.Interval, error)
	EventIDs(ctx context.Context, r model.Interval, extra filter.Tree) ([]int64, error)
	PushTimeRange(r model.Interval) bool
	PushTypeLevel(level model.HierarchyLevel) bool
	Advance() zoom.State
	Retreat() zoom.State
	InvalidateCaches(ctx context.Context, ids []int64) error
}

// Server exposes a Timeline over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	model      Timeline
	listener   net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, m Timeline) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		model:      m,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// A socket file nobody answers on is left over from a crash.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener and every open connection, waits for the
// handlers to return and removes the socket file. It is safe to call twice.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("socketrpc: accept error: %v", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// track registers conn unless the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			encoder.Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParse, Message: "parse error"}})
			continue
		}
		if err := encoder.Encode(s.dispatch(s.ctx, req)); err != nil {
			return
		}
	}
}

type rangeParams struct {
	Start int64
	End   int64
	Text  string
}

// interval returns the requested range, or the current zoom range when none
// was given.
func (p rangeParams) interval(m Timeline) (model.Interval, error) {
	if p.Start == 0 && p.End == 0 {
		return m.ZoomState().TimeRange(), nil
	}
	if p.End <= p.Start {
		return model.Interval{}, fmt.Errorf("end %d is not after start %d", p.End, p.Start)
	}
	return model.Interval{Start: p.Start, End: p.End}, nil
}

func (s *Server) view() ZoomView {
	return ZoomView{State: s.model.ZoomState(), CanAdvance: s.model.CanAdvance(), CanRetreat: s.model.CanRetreat()}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	// optional decodes params that may be omitted entirely.
	optional := func(v any) error {
		if len(req.Params) == 0 || string(req.Params) == "null" {
			return nil
		}
		return json.Unmarshal(req.Params, v)
	}

	switch req.Method {
	case "ZoomState":
		return marshalResult(s.view(), nil)

	case "EventByID":
		var p struct{ ID int64 }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.model.EventByID(ctx, p.ID))

	case "EventCounts":
		var p rangeParams
		if err := optional(&p); err != nil {
			return invalidParams(err)
		}
		r, err := p.interval(s.model)
		if err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.model.EventCounts(ctx, r))

	case "SpanningInterval":
		return marshalResult(s.model.SpanningInterval(ctx))

	case "EventIDs":
		var p rangeParams
		if err := optional(&p); err != nil {
			return invalidParams(err)
		}
		r, err := p.interval(s.model)
		if err != nil {
			return invalidParams(err)
		}
		extra := filter.New()
		if p.Text != "" {
			extra = extra.WithText(p.Text)
		}
		ids, err := s.model.EventIDs(ctx, r, extra)
		if ids == nil {
			ids = []int64{}
		}
		return marshalResult(ids, err)

	case "PushTimeRange":
		var p rangeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.End <= p.Start {
			return invalidParams(fmt.Errorf("end %d is not after start %d", p.End, p.Start))
		}
		return marshalResult(s.model.PushTimeRange(model.Interval{Start: p.Start, End: p.End}), nil)

	case "PushTypeLevel":
		var p struct{ Level string }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		level, err := model.ParseHierarchyLevel(p.Level)
		if err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.model.PushTypeLevel(level), nil)

	case "Advance":
		s.model.Advance()
		return marshalResult(s.view(), nil)

	case "Retreat":
		s.model.Retreat()
		return marshalResult(s.view(), nil)

	case "InvalidateCaches":
		var p struct{ EventIDs []int64 }
		if err := optional(&p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(true, s.model.InvalidateCaches(ctx, p.EventIDs))

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
