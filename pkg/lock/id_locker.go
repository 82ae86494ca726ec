package lock

import (
	"sync"

	"github.com/apex/log"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// IDLocker hands out one mutex per id. Entries are reference counted and removed once
// no goroutine holds or waits on them, so a long running daemon does not accumulate a
// mutex for every session it ever served.
type IDLocker[K comparable] struct {
	mapMutex sync.Mutex
	idMap    map[K]*refMutex
}

func NewIDLocker[K comparable]() *IDLocker[K] {
	return &IDLocker[K]{
		idMap: make(map[K]*refMutex),
	}
}

func (l *IDLocker[K]) AcquireLock(id K) {
	l.mapMutex.Lock()
	m, ok := l.idMap[id]
	if !ok {
		m = &refMutex{}
		l.idMap[id] = m
	}
	m.refs++
	l.mapMutex.Unlock()

	// Lock outside of mapMutex so waiting on one id never blocks other ids.
	m.mu.Lock()
}

func (l *IDLocker[K]) ReleaseLock(id K) {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()

	m, ok := l.idMap[id]
	if !ok {
		log.Errorf("ReleaseLock called on id (%v) with no mutex", id)
		return
	}

	m.refs--
	if m.refs == 0 {
		delete(l.idMap, id)
	}
	m.mu.Unlock()
}

func (l *IDLocker[K]) WithLock(id K, f func() error) error {
	l.AcquireLock(id)
	defer l.ReleaseLock(id)
	return f()
}

// Len returns the number of ids currently held or waited on.
func (l *IDLocker[K]) Len() int {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()
	return len(l.idMap)
}
