package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc runs one attempt against a raw JSON payload.
type HandlerFunc func(ctx context.Context, payload []byte, a Attempt) error

type registered struct {
	run      HandlerFunc
	defaults Options
}

// Registry maps job names to handlers and to the options new jobs of
// that name start from. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]registered
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registered)}
}

// RegisterDefinition binds def to r, replacing any earlier definition of
// the same name. A non-empty payload is decoded into T before the
// handler runs.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	run := func(ctx context.Context, payload []byte, a Attempt) error {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return fmt.Errorf("decode %s payload: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, in, a)
	}

	r.mu.Lock()
	r.byName[def.Name] = registered{run: run, defaults: def.Opts}
	r.mu.Unlock()
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg.run, ok
}

// Defaults returns the options a new job called name starts from: the
// definition's options, or DefaultOptions for an unknown name.
func (r *Registry) Defaults(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byName[name]; ok {
		return reg.defaults
	}
	return DefaultOptions()
}
