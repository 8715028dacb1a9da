package util

import "sync"

// KeyedMutex provides an exclusive critical section per key. The engine locks
// on execution id so state transitions of one execution are serialized while
// unrelated executions progress independently.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (km *KeyedMutex) Lock(key string) {
	km.get(key).Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.get(key).Unlock()
}

func (km *KeyedMutex) get(key string) *sync.Mutex {
	km.mu.Lock()
	defer km.mu.Unlock()
	l, ok := km.locks[key]
	if !ok {
		l = &sync.Mutex{}
		km.locks[key] = l
	}
	return l
}
