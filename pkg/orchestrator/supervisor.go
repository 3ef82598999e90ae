package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Task is a handle to one supervised background task.
type Task struct {
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error once Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Supervisor runs named background tasks. At most one task per name is
// active at a time, task failures are logged and kept on the handle, and
// Shutdown cancels every task and waits for them to return.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	closed bool
}

// NewSupervisor returns a running supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Go starts fn under name. It returns the already-active task and false when
// one with the same name is running, or nil and false after Shutdown.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	if t, ok := s.tasks[name]; ok {
		return t, false
	}

	t := &Task{Name: name, done: make(chan struct{})}
	s.tasks[name] = t
	s.wg.Add(1)
	go s.run(t, fn)
	return t, true
}

func (s *Supervisor) run(t *Task, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
		if t.err != nil && s.ctx.Err() == nil {
			s.logger.Warn("background task failed", zap.String("task", t.Name), zap.Error(t.err))
		}
		s.mu.Lock()
		if s.tasks[t.Name] == t {
			delete(s.tasks, t.Name)
		}
		s.mu.Unlock()
		close(t.done)
	}()
	t.err = fn(s.ctx)
}

// Lookup returns the active task with name.
func (s *Supervisor) Lookup(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Active returns the names of running tasks, sorted.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new tasks, cancels running ones and waits for them.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.Wait(ctx)
}
