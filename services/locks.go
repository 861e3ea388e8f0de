package services

import "sync"

// codeLocks serialises read-modify-write cycles per shoot code. Entries are
// reference counted and dropped once no goroutine holds or waits for them.
type codeLocks struct {
	mu    sync.Mutex
	locks map[string]*codeLock
}

type codeLock struct {
	mu   sync.Mutex
	refs int
}

func newCodeLocks() *codeLocks {
	return &codeLocks{locks: make(map[string]*codeLock)}
}

// Lock blocks until the code is free and returns the matching unlock func.
func (l *codeLocks) Lock(code string) func() {
	l.mu.Lock()
	lock, ok := l.locks[code]
	if !ok {
		lock = &codeLock{}
		l.locks[code] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, code)
		}
		l.mu.Unlock()
	}
}
