package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/dbrep/internal/dbconfig"
)

// Factory opens engines of one database family.
type Factory interface {
	// Name returns the primary engine type (e.g. "postgres").
	Name() string

	// Aliases returns alternative type names (e.g. "postgresql", "pg").
	Aliases() []string

	// Open connects to the database described by conn.
	Open(ctx context.Context, conn dbconfig.Connection) (Engine, error)
}

// Registry maps engine type names to factories. It is built by the caller
// and passed to whatever needs to open engines; there is no global registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the given factories.
// It panics on duplicate names, which is a wiring bug.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a factory under its name and aliases (case-insensitive).
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{f.Name()}, f.Aliases()...)
	for _, n := range names {
		if _, exists := r.factories[strings.ToLower(n)]; exists {
			return fmt.Errorf("engine %q already registered", n)
		}
	}
	for _, n := range names {
		r.factories[strings.ToLower(n)] = f
	}
	return nil
}

// Get retrieves a factory by name or alias (case-insensitive).
func (r *Registry) Get(nameOrAlias string) (Factory, error) {
	r.mu.RLock()
	f, exists := r.factories[strings.ToLower(strings.TrimSpace(nameOrAlias))]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown engine type: %q (available: %v)", nameOrAlias, r.Available())
	}
	return f, nil
}

// Canonicalize returns the primary name for a name or alias, or the input
// unchanged when nothing matches.
func (r *Registry) Canonicalize(nameOrAlias string) string {
	f, err := r.Get(nameOrAlias)
	if err != nil {
		return nameOrAlias
	}
	return f.Name()
}

// Available returns the sorted primary names of registered engines.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, f := range r.factories {
		seen[f.Name()] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open looks up conn.Type and opens an engine wrapped with the
// reconnect-once policy.
func (r *Registry) Open(ctx context.Context, conn dbconfig.Connection) (Engine, error) {
	f, err := r.Get(conn.Type)
	if err != nil {
		return nil, err
	}
	e, err := f.Open(ctx, conn)
	if err != nil {
		return nil, &EngineError{Engine: f.Name(), Op: "open", Err: err}
	}
	return WithReconnect(e), nil
}
