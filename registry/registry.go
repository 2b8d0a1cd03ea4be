// Package registry maps operation names to their handlers and compiled schema
// pairs. Registration happens before the server starts; afterwards the registry
// is read-only, so concurrent lookups from request goroutines need no lock on
// the hot path beyond the registry mutex.
package registry

import (
	"context"
	"sort"
	"sync"

	"nudock/errors"
	"nudock/logger"
	"nudock/message"
	"nudock/schema"
)

// HandshakePath is the reserved version-handshake operation. It is always
// routed first and is exempt from the schema pipeline, so it can never be
// registered as an ordinary operation.
const HandshakePath = "/validate_start"

// Handler is one operation implementation: take a request document, return a
// response document or fail. Anything owning state can implement it, so
// handlers may be bound to an experiment object, a simulation, or nothing.
type Handler interface {
	Handle(ctx context.Context, req message.Document) (message.Document, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req message.Document) (message.Document, error)

func (f HandlerFunc) Handle(ctx context.Context, req message.Document) (message.Document, error) {
	return f(ctx, req)
}

// Entry pairs a handler with the schema pair it was registered with. Entries
// are immutable once stored; the handler and its schemas are never resolved
// independently.
type Entry struct {
	Name    string
	Handler Handler
	Schemas *schema.Pair
}

// Registry holds the registered operations for one session.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register stores a new operation. Empty names, the reserved handshake name,
// and duplicates are rejected: the call logs, returns a coded error and leaves
// any earlier registration intact. It never panics.
func (r *Registry) Register(name string, handler Handler, pair *schema.Pair) error {
	if name == "" {
		err := errors.NewConfigError("request name is empty")
		logger.Errorf("registry: %v", err)
		return err
	}
	if name == HandshakePath {
		err := errors.NewConfigErrorf("request name %q is reserved for the version handshake", name)
		logger.Errorf("registry: %v", err)
		return err
	}
	if handler == nil {
		err := errors.NewConfigErrorf("handler for %q is nil", name)
		logger.Errorf("registry: %v", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		err := errors.NewConfigErrorf("request handler for %q already exists", name)
		logger.Errorf("registry: %v", err)
		return err
	}
	r.entries[name] = &Entry{Name: name, Handler: handler, Schemas: pair}
	return nil
}

// Lookup resolves an operation by name. Absence signals an unknown route.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Names returns the registered operation names, sorted, for startup logging.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
