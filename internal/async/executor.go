package async

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	logd "github.com/cjeanneret/StillGo/internal/debug"
)

// ErrShutdown is returned when work is submitted to an executor that was shut down.
var ErrShutdown = errors.New("executor shut down")

// Executor runs submitted tasks. Execute reports false when the task was
// rejected (executor shut down); the task is then never run.
type Executor interface {
	Execute(task func()) bool
}

// Serial is a single-goroutine executor: tasks run one at a time, in
// submission order. It plays two roles: the interaction thread that every
// user-visible callback is delivered on, and the dedicated camera worker.
type Serial struct {
	name string

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSerial starts a serial executor. name only shows up in logs.
func NewSerial(name string) *Serial {
	s := &Serial{
		name: name,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	logd.Trace("executor %s: started", name)
	return s
}

// Name returns the executor name.
func (s *Serial) Name() string { return s.name }

// Execute queues task. It never blocks.
func (s *Serial) Execute(task func()) bool {
	if task == nil {
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logd.Trace("executor %s: task rejected after shutdown", s.name)
		return false
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Shutdown stops the executor. Queued tasks that have not started are
// discarded and later submissions are rejected. A task already running is
// allowed to finish; use AwaitTermination to wait for it. Safe to call more
// than once and from inside a task.
func (s *Serial) Shutdown() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.once.Do(func() { close(s.quit) })
	if dropped > 0 {
		logd.Verbose("executor %s: shutdown discarded %d queued task(s)", s.name, dropped)
	}
}

// IsShutdown reports whether Shutdown was called.
func (s *Serial) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AwaitTermination blocks until the executor goroutine exited or ctx is done.
func (s *Serial) AwaitTermination(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			logd.Trace("executor %s: stopped", s.name)
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				logd.Trace("executor %s: stopped", s.name)
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			task := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.run(task)
		}
	}
}

func (s *Serial) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logd.Errorf("executor %s: task panic: %v\n%s", s.name, r, debug.Stack())
		}
	}()
	task()
}

// Inline runs tasks on the caller's goroutine. Useful in tests and for
// callbacks that are already on the right goroutine.
type Inline struct{}

// Execute runs task immediately.
func (Inline) Execute(task func()) bool {
	if task == nil {
		return false
	}
	task()
	return true
}
