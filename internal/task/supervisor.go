// Package task tracks in-flight feature invocations so that a newer
// invocation for the same key supersedes an older one instead of racing it.
package task

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a task replaced by a newer one.
var ErrSuperseded = errors.New("task superseded by a newer invocation")

type entry struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// Supervisor holds at most one live task per key.
type Supervisor struct {
	mu     sync.Mutex
	nextID uint64
	tasks  map[string]entry
}

func NewSupervisor() *Supervisor {
	return &Supervisor{tasks: make(map[string]entry)}
}

// Begin starts a task under key, cancelling any task already running under it.
// The returned done func must be called when the task finishes; it releases
// the key unless a newer task has taken it.
func (s *Supervisor) Begin(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	if prev, ok := s.tasks[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.nextID++
	id := s.nextID
	s.tasks[key] = entry{id: id, cancel: cancel}
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		if cur, ok := s.tasks[key]; ok && cur.id == id {
			delete(s.tasks, key)
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}
	return ctx, done
}

// Superseded reports whether ctx was cancelled because a newer task replaced it.
func Superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}

// Active returns the number of keys with a live task.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
