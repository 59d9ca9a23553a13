// Package tcpserver accepts newline-delimited JSON timeline events over TCP.
//
// Each accepted connection is an ingest stream of its own. Lines are handed
// to Lines untouched, tagged with the peer address; decoding and validation
// happen in the ingest pipeline.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/tideline/internal/metrics"
	"github.com/tinytelemetry/tideline/internal/model"
)

const (
	DefaultAddr         = "127.0.0.1:4000"
	DefaultBuffer       = 100_000
	DefaultMaxLineBytes = 1 << 20

	acceptRetryDelay = 50 * time.Millisecond
)

// Config tunes a Server. Zero fields take the package defaults.
type Config struct {
	Addr string
	// Buffer is the capacity of the Lines channel. A full channel blocks the
	// connections feeding it.
	Buffer int
	// MaxLineBytes bounds one event line. A connection sending a longer line
	// is closed.
	MaxLineBytes int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	return c
}

// Server is the TCP event listener.
type Server struct {
	cfg   Config
	lines chan model.IngestEnvelope

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New returns a server that is not yet listening.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		lines:  make(chan model.IngestEnvelope, cfg.Buffer),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and serves connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	log.Printf("tcpserver: accepting events on %s", ln.Addr())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("tcpserver: accept: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// track registers conn so Stop can close it. It fails once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	metrics.IngestConnections.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		metrics.IngestConnections.Dec()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), s.cfg.MaxLineBytes)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		env := model.IngestEnvelope{Source: "tcp:" + peer, Line: sc.Text()}
		select {
		case s.lines <- env:
		case <-s.ctx.Done():
			return
		}
	}

	err := sc.Err()
	switch {
	case err == nil || s.ctx.Err() != nil:
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("tcpserver: closing %s: line over %d bytes", peer, s.cfg.MaxLineBytes)
	default:
		log.Printf("tcpserver: read from %s: %v", peer, err)
	}
}

// Stop closes the listener and every open connection, waits for the
// connection goroutines and then closes Lines. Later calls do nothing.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		if s.ln != nil {
			s.ln.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		close(s.lines)
	})
	return nil
}

// Lines delivers every non-empty line read from any connection.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lines
}

// Addr is the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}
