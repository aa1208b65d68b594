package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mbasaglia/Melanobot-v2-sub002/config"
)

var (
	ErrProtocolRegistered = errors.New("network: protocol already registered")
	ErrUnknownProtocol    = errors.New("network: unknown protocol")
)

// Deps are the collaborators handed to every connection built by a Registry
type Deps struct {
	// Handler receives every inbound message
	Handler func(Message)
	// OnError receives fatal errors, after which the connection is stopped
	OnError func(Connection, error)
	// Users builds the user directory of a new connection, nil uses the protocol default
	Users func(cfg config.Connection) UserDirectory
}

// Factory builds a connection from its configuration
type Factory func(cfg config.Connection, deps Deps) (Connection, error)

// Registry maps protocol names to connection factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for the given protocol
func (r *Registry) Register(protocol string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[protocol]; exists {
		return fmt.Errorf("%w: %s", ErrProtocolRegistered, protocol)
	}
	r.factories[protocol] = factory
	return nil
}

// Create builds a connection using the factory registered for cfg.Protocol
func (r *Registry) Create(cfg config.Connection, deps Deps) (Connection, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Protocol]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, cfg.Protocol)
	}
	return factory(cfg, deps)
}

// Protocols returns the registered protocol names, sorted
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	protocols := make([]string, 0, len(r.factories))
	for name := range r.factories {
		protocols = append(protocols, name)
	}
	sort.Strings(protocols)
	return protocols
}
