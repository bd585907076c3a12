package breaker

import (
	"context"
	"fmt"
	"sync"
)

// Key scopes a breaker to one instance of one tenant on one channel type.
type Key struct {
	TenantID    string
	ChannelType string
	InstanceID  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.ChannelType, k.InstanceID)
}

// Registry owns one Breaker per Key. It replaces any module-level breaker
// state: the channel manager constructs it and hands it to each service.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	opts     []Option
	breakers map[Key]*Breaker
}

func NewRegistry(settings Settings, opts ...Option) *Registry {
	return &Registry{
		settings: settings,
		opts:     opts,
		breakers: make(map[Key]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key Key) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key.String(), r.settings, r.opts...)
		r.breakers[key] = b
	}
	return b
}

// Execute guards fn with the breaker for key.
func (r *Registry) Execute(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	return r.Get(key).Execute(ctx, fn)
}

// Remove forgets the breaker of a deleted instance.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	delete(r.breakers, key)
	r.mu.Unlock()
}

// Snapshot reports the breaker for key without creating it.
func (r *Registry) Snapshot(key Key) (Snapshot, bool) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return b.Snapshot(), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
