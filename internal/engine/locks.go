package engine

import "sync"

// symbolLocks serialises mutations per symbol. Different symbols proceed
// concurrently. Entries are never removed.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex of symbol and returns its release func.
func (l *symbolLocks) lock(symbol string) func() {
	l.mu.Lock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
