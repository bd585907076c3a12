package application

import "sync"

// keyedLocker hands out one mutex per key and forgets it once unused.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the unlock function.
func (k *keyedLocker) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// CancellationHub lets long-lived work tied to an instance (websocket
// streams, queued message jobs) stop when the instance is deleted.
type CancellationHub struct {
	mu       sync.Mutex
	watchers map[string]map[int]chan struct{}
	nextID   int
}

func NewCancellationHub() *CancellationHub {
	return &CancellationHub{watchers: make(map[string]map[int]chan struct{})}
}

func hubKey(tenantID, instanceID string) string {
	return tenantID + "/" + instanceID
}

// Watch returns a channel closed when the instance is cancelled, and a
// release function the watcher must call when it is done.
func (h *CancellationHub) Watch(tenantID, instanceID string) (<-chan struct{}, func()) {
	key := hubKey(tenantID, instanceID)
	ch := make(chan struct{})

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[int]chan struct{})
	}
	h.watchers[key][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.watchers[key]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.watchers, key)
				}
			}
			h.mu.Unlock()
		})
	}
}

// Cancel closes every watcher of the instance and returns how many there were.
func (h *CancellationHub) Cancel(tenantID, instanceID string) int {
	key := hubKey(tenantID, instanceID)
	h.mu.Lock()
	set := h.watchers[key]
	delete(h.watchers, key)
	h.mu.Unlock()

	for _, ch := range set {
		close(ch)
	}
	return len(set)
}
