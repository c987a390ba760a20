package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ModelSpec is one row of the capability table.
type ModelSpec struct {
	// ID is the name callers use.
	ID string

	// Provider selects the backend ("openai", "ollama").
	Provider string

	// BaseURL is the provider endpoint root.
	BaseURL string

	// APIName is the identifier sent on the wire; defaults to ID.
	APIName string

	// MaxOutputTokens clamps requested output length. 0 means no clamp.
	MaxOutputTokens int

	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv string
}

func (s ModelSpec) apiName() string {
	if s.APIName != "" {
		return s.APIName
	}
	return s.ID
}

// Registry resolves model identifiers once per call so that call sites never
// branch on model names.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelSpec
}

func NewRegistry(specs ...ModelSpec) *Registry {
	r := &Registry{models: make(map[string]ModelSpec)}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Register adds spec unless a model with the same ID is already known.
func (r *Registry) Register(spec ModelSpec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[spec.ID]; ok {
		return false
	}
	r.models[spec.ID] = spec
	return true
}

func (r *Registry) Resolve(id string) (ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.models[id]
	if !ok {
		return ModelSpec{}, newError(KindInvalidRequest, fmt.Errorf("unknown model %q", id))
	}
	return spec, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
