package lock

import (
	"context"
	"sync"
)

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) error {
	s := l.ref(key)
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key)
		return ctx.Err()
	}
}

func (l *Local) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	l.mu.Unlock()
	if !ok {
		return ErrNotHeld
	}
	select {
	case <-s.sem:
	default:
		return ErrNotHeld
	}
	l.unref(key)
	return nil
}

// ref registers interest in key so the slot survives until unref.
func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports the number of keys with waiters or holders. Test hook.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
