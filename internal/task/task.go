// Package task runs cancellable, progress-reporting background work.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tinytelemetry/tideline/internal/model"
)

// ID identifies a task.
type ID string

// NewID returns a random task id.
func NewID() ID {
	return ID(uuid.New().String())
}

// State is the lifecycle state of a task.
type State int

const (
	Ready State = iota
	Running
	Succeeded
	Cancelled
	Failed
)

var stateNames = [...]string{"ready", "running", "succeeded", "cancelled", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s >= Succeeded
}

// Indeterminate is the progress value of a task that cannot estimate its work.
const Indeterminate = -1.0

// Func is the body of a task. It should check ctx or t.Cancelled() between
// units of work and report progress through t.
type Func func(ctx context.Context, t *Task) error

// Info is a snapshot of a task for observers.
type Info struct {
	ID       ID      `json:"id"`
	Title    string  `json:"title"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Task is one unit of background work.
type Task struct {
	id    ID
	title string
	fn    Func

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	mu       sync.Mutex
	state    State
	progress float64
	message  string
	err      error
	onUpdate func(*Task)
}

// New creates a task in the Ready state.
func New(title string, fn Func) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		id:       NewID(),
		title:    title,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: Indeterminate,
	}
}

func (t *Task) ID() ID        { return t.id }
func (t *Task) Title() string { return t.title }

// Cancel requests cooperative cancellation. A task that has not started yet
// never runs.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done and returns the task's
// error. A cancelled task returns model.ErrTaskCancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// UpdateProgress sets the completed fraction, clamped to [0, 1].
func (t *Task) UpdateProgress(p float64) {
	p = min(max(p, 0), 1)
	t.update(func() { t.progress = p })
}

// UpdateMessage sets the status line shown with the task.
func (t *Task) UpdateMessage(msg string) {
	t.update(func() { t.message = msg })
}

// Info returns a snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{
		ID:       t.id,
		Title:    t.title,
		State:    t.state.String(),
		Progress: t.progress,
		Message:  t.message,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

func (t *Task) update(fn func()) {
	t.mu.Lock()
	fn()
	notify := t.onUpdate
	t.mu.Unlock()
	if notify != nil {
		notify(t)
	}
}

func (t *Task) setObserver(fn func(*Task)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// run executes the task body once and moves it to a terminal state.
func (t *Task) run() {
	if t.Cancelled() {
		t.finish(Cancelled, model.ErrTaskCancelled)
		return
	}
	t.update(func() { t.state = Running })

	err := t.call()
	switch {
	case err == nil && !t.Cancelled():
		t.finish(Succeeded, nil)
	case t.Cancelled() || errors.Is(err, context.Canceled) || errors.Is(err, model.ErrTaskCancelled):
		t.finish(Cancelled, model.ErrTaskCancelled)
	default:
		t.finish(Failed, err)
	}
}

func (t *Task) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task: %s panicked: %v", t.title, r)
		}
	}()
	return t.fn(t.ctx, t)
}

func (t *Task) finish(s State, err error) {
	t.update(func() {
		t.state = s
		t.err = err
		if s == Succeeded {
			t.progress = 1
		}
	})
	t.cancel()
	close(t.done)
}
