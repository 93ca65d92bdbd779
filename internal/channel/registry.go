package channel

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Registry holds all registered channel adapters. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Type]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	ct := ParseType(adapter.Type().String())
	if ct == "" {
		return errors.New("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType Type) (Adapter, bool) {
	ct := ParseType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Types returns all registered channel types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Type, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	slices.Sort(items)
	return items
}

// ChallengeResponder returns the adapter's handshake capability if it has one.
func (r *Registry) ChallengeResponder(channelType Type) (ChallengeResponder, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	cr, ok := adapter.(ChallengeResponder)
	return cr, ok
}

// Acknowledger returns the adapter's custom-ack capability if it has one.
func (r *Registry) Acknowledger(channelType Type) (Acknowledger, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	ack, ok := adapter.(Acknowledger)
	return ack, ok
}
