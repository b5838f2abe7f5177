package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/echorelay/internal/vision"
	"github.com/MrWong99/echorelay/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realtime map[string]func(ProviderEntry) (realtime.Provider, error)
	vision   map[string]func(ProviderEntry) (vision.Describer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime: make(map[string]func(ProviderEntry) (realtime.Provider, error)),
		vision:   make(map[string]func(ProviderEntry) (vision.Describer, error)),
	}
}

// RegisterRealtime registers a realtime speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(ProviderEntry) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterVision registers a vision describer factory under name.
func (r *Registry) RegisterVision(name string, factory func(ProviderEntry) (vision.Describer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = factory
}

// CreateRealtime instantiates a realtime provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.realtime[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVision instantiates a vision describer using the factory registered
// under entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Describer, error) {
	r.mu.RLock()
	factory, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
