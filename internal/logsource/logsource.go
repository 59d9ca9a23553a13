// Package logsource unifies the inputs that feed event lines to ingest.
package logsource

import "github.com/tinytelemetry/tideline/internal/model"

// Source is a unified interface for all event inputs (TCP, file, stdin).
type Source interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of event lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "file", "stdin"
}
