package task

import (
	"errors"
	"log"
	"sync"

	"github.com/tinytelemetry/tideline/internal/metrics"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("task: executor stopped")

// Hooks receive executor events. Both are called from the worker goroutine
// and must not block for long.
type Hooks struct {
	// Head is called whenever the head of the queue changes or reports
	// progress. ok is false when the queue became empty.
	Head func(head Info, ok bool)
	// Finished is called once per task after it reached a terminal state.
	Finished func(info Info, err error)
}

// Executor runs tasks one at a time in submission order on a single worker
// goroutine. Only the head of the queue (the running task, or the next one
// to run) is surfaced through Hooks.Head.
type Executor struct {
	hooks Hooks

	mu      sync.Mutex
	queue   []*Task
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewExecutor starts the worker goroutine.
func NewExecutor(hooks Hooks) *Executor {
	e := &Executor{
		hooks: hooks,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Submit queues t. The task starts once every task queued before it finished.
func (e *Executor) Submit(t *Task) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.queue = append(e.queue, t)
	isHead := len(e.queue) == 1
	e.mu.Unlock()

	if isHead {
		e.publishHead()
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel cancels the queued or running task with the given id.
func (e *Executor) Cancel(id ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.queue {
		if t.ID() == id {
			t.Cancel()
			return true
		}
	}
	return false
}

// Head returns a snapshot of the task at the front of the queue.
func (e *Executor) Head() (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Info{}, false
	}
	return e.queue[0].Info(), true
}

// Pending returns snapshots of all queued tasks, head first.
func (e *Executor) Pending() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Info, 0, len(e.queue))
	for _, t := range e.queue {
		out = append(out, t.Info())
	}
	return out
}

// Stop cancels every queued task and waits for the worker to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, t := range e.queue {
		t.Cancel()
	}
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		t := e.front()
		if t == nil {
			select {
			case <-e.wake:
				continue
			case <-e.done:
				return
			}
		}

		t.setObserver(e.headUpdated)
		t.run()
		e.complete(t)
	}
}

func (e *Executor) front() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	return e.queue[0]
}

func (e *Executor) complete(t *Task) {
	t.setObserver(nil)
	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0] == t {
		e.queue = e.queue[1:]
	}
	e.mu.Unlock()

	info := t.Info()
	err := t.Err()
	metrics.Tasks.WithLabelValues(info.State).Inc()
	if info.State == Failed.String() {
		log.Printf("task: %s failed: %v", t.Title(), err)
	}
	if e.hooks.Finished != nil {
		e.hooks.Finished(info, err)
	}
	e.publishHead()
}

func (e *Executor) headUpdated(t *Task) {
	if e.hooks.Head != nil {
		e.hooks.Head(t.Info(), true)
	}
}

func (e *Executor) publishHead() {
	if e.hooks.Head == nil {
		return
	}
	info, ok := e.Head()
	e.hooks.Head(info, ok)
}
