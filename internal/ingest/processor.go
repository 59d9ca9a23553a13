package ingest

import (
	"log"

	"github.com/tinytelemetry/tideline/internal/metrics"
	"github.com/tinytelemetry/tideline/internal/model"
)

// Processor decodes source-tagged lines and routes valid events to a Batcher.
type Processor struct {
	batcher *Batcher
}

// NewProcessor creates a processor feeding batcher.
func NewProcessor(batcher *Batcher) *Processor {
	return &Processor{batcher: batcher}
}

// ProcessEnvelope decodes one line. Rejected lines are logged and counted,
// and the error is returned for callers that report per-line results.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) error {
	ev, err := DecodeEvent(env.Line)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("rejected").Inc()
		log.Printf("ingest: rejected line from %s: %v", env.Source, err)
		return err
	}
	p.batcher.Add(ev)
	return nil
}

// Drain processes every line of src until its channel closes.
func (p *Processor) Drain(src <-chan model.IngestEnvelope) (accepted, rejected int) {
	for env := range src {
		if p.ProcessEnvelope(env) != nil {
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected
}
