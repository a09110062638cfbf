// ABOUTME: Thread-safe verb table for bot commands
// ABOUTME: Lookups are exact; registration order is kept for help output

package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrDuplicateVerb indicates the verb is already registered.
var ErrDuplicateVerb = errors.New("verb already registered")

// ErrInvalidVerb indicates an empty verb or one containing whitespace.
var ErrInvalidVerb = errors.New("invalid verb")

type entry struct {
	spec    Spec
	handler Handler
}

// Registry maps verbs to commands.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a command. It fails if the verb is taken.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if spec.Verb == "" || strings.ContainsAny(spec.Verb, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidVerb, spec.Verb)
	}
	if handler == nil {
		return fmt.Errorf("registering %q: nil handler", spec.Verb)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[spec.Verb]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVerb, spec.Verb)
	}
	r.entries[spec.Verb] = &entry{spec: spec, handler: handler}
	r.order = append(r.order, spec.Verb)
	return nil
}

// Lookup returns the command for verb.
func (r *Registry) Lookup(verb string) (Spec, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[verb]
	if !ok {
		return Spec{}, nil, false
	}
	return e.spec, e.handler, true
}

// Specs returns every registered spec in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.order))
	for _, verb := range r.order {
		specs = append(specs, r.entries[verb].spec)
	}
	return specs
}
