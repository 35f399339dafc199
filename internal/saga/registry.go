package saga

import (
	"sort"
	"sync"

	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
)

// Registry is the static catalog of saga definitions, keyed by saga type.
// Definitions are registered once at process start; lookups happen from
// concurrent consumer goroutines, so reads are guarded.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register stores one definition per saga type. Registering the same type
// again replaces the previous definition.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.SagaType] = def
}

// Get returns the definition for sagaType or ErrUnknownSagaType.
func (r *Registry) Get(sagaType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[sagaType]
	if !ok {
		return nil, apperrors.UnknownSagaType(sagaType)
	}
	return def, nil
}

// Types returns the registered definitions sorted by saga type.
func (r *Registry) Types() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].SagaType < defs[j].SagaType })
	return defs
}
