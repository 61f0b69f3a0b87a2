// Package tools exposes every service operation as a flat set of
// request-reply handlers. A handler takes named arguments and returns a
// JSON string; failures come back as {"error": "..."} so transports never
// interpret Go errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler is one tool operation.
type Handler func(ctx context.Context, args map[string]interface{}) string

// Registry is the flat tool table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register panics on duplicate names; tool names are compile-time data.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		panic("tools: duplicate handler " + name)
	}
	r.handlers[name] = h
}

// Call dispatches to a named handler. Unknown names report an error the
// same way handlers do.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) string {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return errJSON(fmt.Sprintf("unknown tool %q", name))
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return h(ctx, args)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultRegistry registers the full tool surface against c.
func NewDefaultRegistry(c *Container) *Registry {
	r := NewRegistry()
	registerIdentity(r, c)
	registerAgentCard(r, c)
	registerDID(r, c)
	registerDelegation(r, c)
	registerReputation(r, c)
	registerCompliance(r, c)
	registerCredential(r, c)
	registerProvenance(r, c)
	registerBlockchain(r, c)
	return r
}

func errJSON(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(b)
}

// respond renders a service result, folding errors into the error shape.
func respond(v interface{}, err error) string {
	if err != nil {
		return errJSON(err.Error())
	}
	b, mErr := json.MarshalIndent(v, "", "  ")
	if mErr != nil {
		return errJSON("result not serializable: " + mErr.Error())
	}
	return string(b)
}
