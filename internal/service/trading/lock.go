package trading

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per order id so cancel and fill-report
// processing for the same order serialize without a global lock.
// Entries are reference counted and freed once the last holder unlocks.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
