package mux

import (
	"errors"
	"sync"
)

var ErrAlreadyRegistered = errors.New("mux: socket already registered")

// Registry maps sockets to the handlers owning them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Socket]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Socket]Handler)}
}

func (r *Registry) Register(sock Socket, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[sock]; ok {
		return ErrAlreadyRegistered
	}
	r.handlers[sock] = h
	return nil
}

// Unregister removes sock and reports whether it was registered.
func (r *Registry) Unregister(sock Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[sock]; !ok {
		return false
	}
	delete(r.handlers, sock)
	return true
}

func (r *Registry) Lookup(sock Socket) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[sock]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Handlers returns a snapshot copy safe to iterate while the registry changes.
func (r *Registry) Handlers() map[Socket]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[Socket]Handler, len(r.handlers))
	for s, h := range r.handlers {
		snapshot[s] = h
	}
	return snapshot
}
