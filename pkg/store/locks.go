package store

import "sync"

// threadLocks hands out one mutex per thread so mutations of a thread are
// serialized while unrelated threads never contend.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for the given thread (creates if needed).
func (t *threadLocks) get(threadID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[threadID]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[threadID] = l
	return l
}
