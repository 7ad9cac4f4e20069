package common

import (
	"context"
	"sort"
	"sync"
)

// KeyLock hands out exclusive locks over sets of string keys. Keys are
// acquired in sorted order so two callers locking overlapping sets cannot
// deadlock.
type KeyLock struct {
	locks map[string]*keyEntry
	mu    sync.Mutex
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyLock creates an empty lock table.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until every key is held or ctx is done. The returned function
// releases all keys and must be called exactly once.
func (l *KeyLock) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := dedupe(keys)

	held := make([]string, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, key := range sorted {
		entry := l.acquireEntry(key)
		select {
		case entry.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.releaseEntry(key)
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}

func (l *KeyLock) acquireEntry(key string) *keyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &keyEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *KeyLock) releaseEntry(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *KeyLock) unlock(key string) {
	l.mu.Lock()
	entry := l.locks[key]
	l.mu.Unlock()

	<-entry.ch
	l.releaseEntry(key)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
