package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// WorkFunc is a type-erased work function that accepts raw JSON
// parameters. Typed definitions are converted to a WorkFunc at
// registration time by pairing a JSON decode step with the typed function.
type WorkFunc func(ctx context.Context, params []byte) (string, error)

type entry struct {
	work WorkFunc
	opts Options
}

// Registry maps worker names to work functions and their default job
// options. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// RegisterDefinition registers a typed definition. The typed function is
// wrapped in a closure that decodes the parameters into T first; empty
// parameters leave T at its zero value.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	work := func(ctx context.Context, params []byte) (string, error) {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return "", fmt.Errorf("decode parameters for job %q: %w", def.Name, err)
			}
		}
		return def.Work(ctx, t)
	}
	r.Register(def.Name, work, def.Opts)
}

// Register adds a raw work function under name.
func (r *Registry) Register(name string, work WorkFunc, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{work: work, opts: opts}
}

// Get returns the work function for the given worker name.
func (r *Registry) Get(name string) (WorkFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.work, ok
}

// Options returns the default job options registered with name.
func (r *Registry) Options(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.opts, ok
}

// Names returns all registered worker names in sorted order.
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
