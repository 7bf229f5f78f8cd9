// Package lock предоставляет исключительную секцию на ключ (обычно ID заказа)
// с ограниченным временем ожидания.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout - сколько ждать секцию, прежде чем вернуть ErrLockTimeout.
const DefaultTimeout = 250 * time.Millisecond

// ErrLockTimeout возвращается, когда секция не освободилась за отведенное время.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker выдает исключительную секцию на ключ. Разные ключи друг друга не блокируют.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type localEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Local - Locker в пределах одного процесса.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	timeout time.Duration
}

// NewLocal создает Local; timeout <= 0 означает DefaultTimeout.
func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{entries: make(map[string]*localEntry), timeout: timeout}
}

func (l *Local) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Acquire ждет секцию не дольше таймаута.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

// size - число ключей, по которым сейчас держат или ждут секцию.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
