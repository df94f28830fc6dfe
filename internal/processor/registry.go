package processor

import (
	"sort"
	"sync"
	"time"
)

// Change sources recorded against cached values.
const (
	SourceAPI    = "api"
	SourceScene  = "scene"
	SourceDevice = "device"
	SourceSync   = "sync"
)

// CachedValue is one parameter's last known state. Confirmed means the
// value was acknowledged or pushed by the device on the current
// connection; after a reconnect everything is unconfirmed until re-read.
type CachedValue struct {
	Value     float64   `json:"value"`
	Confirmed bool      `json:"confirmed"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is the in-memory parameter cache for one unit. The cache never
// holds optimistic values: entries are written only from device
// acknowledgements and pushes, so a confirmed read reflects what the
// hardware is actually doing.
type Registry struct {
	mu     sync.RWMutex
	values map[string]CachedValue
}

// NewRegistry creates an empty parameter cache.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]CachedValue)}
}

// Confirm records a device-acknowledged value.
func (r *Registry) Confirm(name string, value float64, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = CachedValue{
		Value:     value,
		Confirmed: true,
		Source:    source,
		UpdatedAt: time.Now(),
	}
}

// Get returns the cached state for a parameter.
func (r *Registry) Get(name string) (CachedValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Snapshot returns a copy of the whole cache.
func (r *Registry) Snapshot() map[string]CachedValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CachedValue, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Names returns all cached parameter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Unconfirmed returns the names of parameters awaiting re-confirmation,
// sorted.
func (r *Registry) Unconfirmed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k, v := range r.values {
		if !v.Confirmed {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// MarkAllUnconfirmed flags every cached value as stale. Called on
// disconnect: the device may have been power-cycled or adjusted from its
// front panel while we were away, so nothing is trusted until re-read.
func (r *Registry) MarkAllUnconfirmed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.values {
		v.Confirmed = false
		r.values[k] = v
	}
}

// Len returns the number of cached parameters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}
