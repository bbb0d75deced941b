package shared

import (
	"fmt"
	"sort"
	"sync"
)

// StockLockKey builds the lock key guarding one inventory row. Keys sort in
// ascending product id order.
func StockLockKey(productID int64) string {
	return fmt.Sprintf("inventory:product:%020d", productID)
}

// KeyedMutex hands out one mutex per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// LockAll acquires every key in ascending order and returns the release func.
// Duplicate keys are collapsed.
func (k *KeyedMutex) LockAll(keys ...string) func() {
	sorted := uniqueSorted(keys)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		m := k.get(key)
		m.Lock()
		held = append(held, m)
	}
	return releaser(held)
}

// TryLockAll acquires every key without blocking. It returns false and holds
// nothing when any key is already taken.
func (k *KeyedMutex) TryLockAll(keys ...string) (func(), bool) {
	sorted := uniqueSorted(keys)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		m := k.get(key)
		if !m.TryLock() {
			releaser(held)()
			return nil, false
		}
		held = append(held, m)
	}
	return releaser(held), true
}

func releaser(held []*sync.Mutex) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
