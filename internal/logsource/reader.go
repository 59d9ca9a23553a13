package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"github.com/tinytelemetry/tideline/internal/model"
)

const (
	// DefaultReaderBuffer is the default channel buffer size for read lines.
	DefaultReaderBuffer = 50_000

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// ReaderConfig holds tunable parameters for reader sources.
type ReaderConfig struct {
	BufferSize  int
	MaxLineSize int
}

// ReaderSource reads event lines from a stream, such as an exported event
// file or stdin. Lines closes when the stream ends or the source is stopped.
type ReaderSource struct {
	name   string
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	closer io.Closer
	once   sync.Once
}

// NewStdinSource reads event lines piped to the process.
func NewStdinSource(ctx context.Context, conf ...ReaderConfig) *ReaderSource {
	return newReaderSource(ctx, "stdin", os.Stdin, nil, conf...)
}

// OpenFileSource reads event lines from the file at path.
func OpenFileSource(ctx context.Context, path string, conf ...ReaderConfig) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newReaderSource(ctx, "file:"+path, f, f, conf...), nil
}

func newReaderSource(ctx context.Context, name string, r io.Reader, closer io.Closer, conf ...ReaderConfig) *ReaderSource {
	bufferSize := DefaultReaderBuffer
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
		closer: closer,
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

func (s *ReaderSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	// A single goroutine does the blocking scan so cancellation is noticed
	// without spawning a goroutine per line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				log.Printf("logsource: %s line exceeded max size (%d bytes), stopping source", s.name, maxLineSize)
				return
			}
			log.Printf("logsource: %s scanner error: %v", s.name, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Name() string                       { return s.name }

// Stop cancels reading and closes the underlying file, if any.
func (s *ReaderSource) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.closer != nil {
			s.closer.Close()
		}
	})
}
