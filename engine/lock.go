package engine

import "sync"

// sceneLocks hands out one mutex per scene ID so that steps on a
// single scene are strictly sequential while distinct scenes, and
// distinct tenants, proceed fully in parallel. Entries are reference
// counted and removed when the last holder releases.
type sceneLocks struct {
	mu    sync.Mutex
	locks map[string]*sceneLock
}

type sceneLock struct {
	mu   sync.Mutex
	refs int
}

func newSceneLocks() *sceneLocks {
	return &sceneLocks{locks: make(map[string]*sceneLock)}
}

// lock acquires the scene's mutex and returns its release func. The
// release func must be called on every exit path.
func (l *sceneLocks) lock(sceneID string) func() {
	l.mu.Lock()
	e, ok := l.locks[sceneID]
	if !ok {
		e = new(sceneLock)
		l.locks[sceneID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs < 1 {
			delete(l.locks, sceneID)
		}
		l.mu.Unlock()
	}
}
