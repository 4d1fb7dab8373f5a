package breaker

import "sync"

// Registry lazily creates one Breaker per key on first Get, as §4.2
// specifies. All breakers in a registry share the same Config and Clock.
type Registry struct {
	cfg   Config
	clock Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. A nil clock uses wall-clock time.
func NewRegistry(cfg Config, clock Clock) *Registry {
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first access.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(r.cfg, r.clock)
		r.breakers[key] = b
	}
	return b
}

// Reset resets every breaker currently held by the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// ResetKey resets a single breaker if it exists; a no-op otherwise.
func (r *Registry) ResetKey(key string) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
}
