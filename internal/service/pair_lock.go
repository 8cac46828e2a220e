package service

import "sync"

type pairKey struct {
	lo, hi string
}

func newPairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// pairLocker serializes operations on the same unordered pair of users.
// The table mutex guards only the map; store round-trips run under the
// per-pair mutex alone.
type pairLocker struct {
	mu    sync.Mutex
	locks map[pairKey]*pairLock
}

func newPairLocker() *pairLocker {
	return &pairLocker{locks: make(map[pairKey]*pairLock)}
}

// Lock blocks until the pair (a, b) is free and returns its unlock func.
func (p *pairLocker) Lock(a, b string) func() {
	key := newPairKey(a, b)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *pairLocker) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
