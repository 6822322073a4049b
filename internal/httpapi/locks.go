package httpapi

import "sync"

// sessionLocks hands out one mutex per session id. Entries are dropped once
// nobody holds or waits for them.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

func (l *sessionLocks) lock(id string) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *sessionLocks) unlock(id string) {
	l.mu.Lock()
	e := l.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// locker binds the table to one session id.
func (l *sessionLocks) locker(id string) sync.Locker {
	return sessionLocker{locks: l, id: id}
}

type sessionLocker struct {
	locks *sessionLocks
	id    string
}

func (s sessionLocker) Lock()   { s.locks.lock(s.id) }
func (s sessionLocker) Unlock() { s.locks.unlock(s.id) }
