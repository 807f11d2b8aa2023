package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/evalgo/clusterlib/clerr"
)

// Method is a registered RPC handler: it receives the raw params and
// returns a result to be marshalled back, or an error.
type Method func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Registry is the method dispatch table: register/unregister by name,
// both reporting conflict rather than silently overwriting.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds name, returning false if it is already registered.
func (r *Registry) Register(name string, m Method) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return false
	}
	r.methods[name] = m
	return true
}

// Unregister removes name, returning false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; !exists {
		return false
	}
	delete(r.methods, name)
	return true
}

// Invoke dispatches to the method named name, or returns InvalidMethod
// if nothing is registered under that name.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	m, ok := r.methods[name]
	r.mu.RUnlock()
	if !ok {
		return nil, clerr.New(clerr.InvalidMethod, "no such method: "+name)
	}
	return m(ctx, params)
}
