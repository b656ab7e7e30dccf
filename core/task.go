package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/scrollback/schema"
)

// Task is a unit of work bound to an ordered set of sessions.
type Task interface {
	ID() schema.TaskID
	Kind() schema.TaskKind
	AddSession(id schema.SessionID) error
	Sessions() []schema.SessionID
	Execute(ctx context.Context) error
	SetAutoDelete(enable bool)
	AutoDelete() bool
	OnCompleted(fn func())
	Done() <-chan struct{}
}

// taskBase carries the lifecycle shared by every task kind: session
// references, the completion signal and auto-delete disposal.
type taskBase struct {
	id       schema.TaskID
	kind     schema.TaskKind
	registry *Registry
	sink     EventSink
	set      *TaskSet

	mu         sync.Mutex
	sessions   []schema.SessionID
	autoDelete bool
	observers  []func()
	disposed   bool

	completeOnce sync.Once
	done         chan struct{}
}

func newTaskBase(kind schema.TaskKind, registry *Registry, sink EventSink) taskBase {
	return taskBase{
		id:       newTaskID(),
		kind:     kind,
		registry: registry,
		sink:     sinkOrNop(sink),
		done:     make(chan struct{}),
	}
}

// ID returns the task id.
func (t *taskBase) ID() schema.TaskID {
	return t.id
}

// Kind returns the task kind.
func (t *taskBase) Kind() schema.TaskKind {
	return t.kind
}

// AddSession appends a session reference. The session must be live now; it
// may disappear before the task runs. Duplicates are kept.
func (t *taskBase) AddSession(id schema.SessionID) error {
	if t.registry == nil {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, id)
	}
	if _, ok := t.registry.Lookup(id); !ok {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return schema.ErrTaskDisposed
	}
	t.sessions = append(t.sessions, id)
	return nil
}

// Sessions returns the session references in insertion order.
func (t *taskBase) Sessions() []schema.SessionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schema.SessionID(nil), t.sessions...)
}

// SetAutoDelete makes the task dispose itself after completion.
func (t *taskBase) SetAutoDelete(enable bool) {
	t.mu.Lock()
	t.autoDelete = enable
	t.mu.Unlock()
}

// AutoDelete reports whether the task disposes itself after completion.
func (t *taskBase) AutoDelete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoDelete
}

// OnCompleted registers an observer. Observers run in registration order on
// the goroutine that completes the task.
func (t *taskBase) OnCompleted(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Done is closed after the completion observers ran.
func (t *taskBase) Done() <-chan struct{} {
	return t.done
}

// Disposed reports whether the task was disposed.
func (t *taskBase) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

func (t *taskBase) lookup(id schema.SessionID) (*Session, error) {
	if t.registry == nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrDanglingSession, id)
	}
	sess, ok := t.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrDanglingSession, id)
	}
	return sess, nil
}

// complete fires the completion signal once, then disposes the task when
// auto-delete is set.
func (t *taskBase) complete(sessionID schema.SessionID) {
	t.completeOnce.Do(func() {
		t.mu.Lock()
		observers := append([]func(){}, t.observers...)
		t.mu.Unlock()
		for _, fn := range observers {
			fn()
		}
		t.sink.OnTaskEvent(schema.TaskEvent{
			Type:      schema.TaskEventCompleted,
			TaskID:    t.id,
			Kind:      t.kind,
			SessionID: sessionID,
			At:        time.Now(),
		})
		close(t.done)
		if t.AutoDelete() {
			t.dispose()
		}
	})
}

func (t *taskBase) dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.observers = nil
	set := t.set
	t.mu.Unlock()
	if set != nil {
		set.remove(t.id)
	}
}

func (t *taskBase) attach(set *TaskSet) {
	t.mu.Lock()
	t.set = set
	t.mu.Unlock()
}

// TaskSet keeps live tasks reachable by id until they are disposed.
type TaskSet struct {
	mu    sync.Mutex
	tasks map[schema.TaskID]Task
}

// NewTaskSet constructs an empty task set.
func NewTaskSet() *TaskSet {
	return &TaskSet{tasks: make(map[schema.TaskID]Task)}
}

// Add tracks a task. Auto-deleting tasks leave the set once completed.
func (s *TaskSet) Add(task Task) {
	if task == nil {
		return
	}
	s.mu.Lock()
	s.tasks[task.ID()] = task
	s.mu.Unlock()
	if a, ok := task.(interface{ attach(*TaskSet) }); ok {
		a.attach(s)
	}
}

// Get returns a tracked task.
func (s *TaskSet) Get(id schema.TaskID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// Len returns the number of tracked tasks.
func (s *TaskSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *TaskSet) remove(id schema.TaskID) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}
