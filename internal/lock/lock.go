// Package lock guards planning runs so only one dispatches at a time.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the lock is held by another run
var ErrLocked = errors.New("run lock is held")

// Locker acquires a named lock without waiting
type Locker interface {
	// TryLock returns a release function, or ErrLocked when the lock is taken
	TryLock(ctx context.Context, name string) (release func(), err error)
}

// Local is an in-process Locker
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// TryLock implements Locker
func (l *Local) TryLock(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrLocked
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
