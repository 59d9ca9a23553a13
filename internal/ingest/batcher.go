package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/tideline/internal/metrics"
	"github.com/tinytelemetry/tideline/internal/model"
)

const (
	// DefaultBatchSize is the number of events written per transaction.
	DefaultBatchSize = 2000
	// DefaultFlushInterval bounds how long an event waits in the buffer.
	DefaultFlushInterval = 250 * time.Millisecond
	// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
	DefaultFlushQueueSize = 64

	flushTimeout = 30 * time.Second
)

// Sink stores event batches.
type Sink interface {
	InsertEvents(ctx context.Context, events []model.Event) error
}

// BatcherConfig holds tunable parameters for the batcher.
type BatcherConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	// OnFlush runs on the flush goroutine after events were stored.
	OnFlush func(ctx context.Context, stored []model.Event)
}

// Batcher buffers decoded events and writes them to the sink in batches.
// Add never blocks on the store: full batches go to a flush goroutine.
type Batcher struct {
	sink          Sink
	onFlush       func(ctx context.Context, stored []model.Event)
	mu            sync.Mutex
	pending       []model.Event
	flushChan     chan []model.Event
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64
}

// NewBatcher creates a batcher that flushes to sink.
func NewBatcher(sink Sink, conf ...BatcherConfig) *Batcher {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var onFlush func(context.Context, []model.Event)
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		onFlush = conf[0].OnFlush
	}

	b := &Batcher{
		sink:          sink,
		onFlush:       onFlush,
		pending:       make([]model.Event, 0, batchSize),
		flushChan:     make(chan []model.Event, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// Add queues an event for insertion. It must not be called after Stop.
func (b *Batcher) Add(ev model.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	var batch []model.Event
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]model.Event, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch)
	}
}

// Stop flushes remaining events and waits for all writes to complete.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// The final drain must reach flushChan before it closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

func (b *Batcher) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

func (b *Batcher) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]model.Event, 0, b.maxBatch)
	b.mu.Unlock()

	b.enqueue(batch)
}

// enqueue hands a batch to the flush goroutine, or flushes inline when the
// queue is full so memory stays bounded while the store falls behind.
func (b *Batcher) enqueue(batch []model.Event) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

func (b *Batcher) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("ingest: backpressure, %d inline flushes (flush queue full)", count)
	}
}

func (b *Batcher) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// flushBatch writes batch in one transaction. When that fails the batch is
// retried event by event so one bad event does not lose its neighbours.
func (b *Batcher) flushBatch(batch []model.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	stored := batch
	if err := b.sink.InsertEvents(ctx, batch); err != nil {
		stored = make([]model.Event, 0, len(batch))
		for _, ev := range batch {
			if rerr := b.sink.InsertEvents(ctx, []model.Event{ev}); rerr != nil {
				log.Printf("ingest: dropping event %d (%.80s): %v", ev.ID, ev.ShortDescription, rerr)
				continue
			}
			stored = append(stored, ev)
		}
		log.Printf("ingest: batch partially failed, %d/%d events dropped", len(batch)-len(stored), len(batch))
	}

	metrics.IngestEvents.WithLabelValues("inserted").Add(float64(len(stored)))
	if dropped := len(batch) - len(stored); dropped > 0 {
		metrics.IngestEvents.WithLabelValues("dropped").Add(float64(dropped))
	}
	if len(stored) > 0 && b.onFlush != nil {
		b.onFlush(ctx, stored)
	}
}
