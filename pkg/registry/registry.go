// Package registry is a process-local keyed store for values that cannot
// cross the job queue: engine handles, agent bundles, history services.
// Pipeline state stays serialisable by carrying only the opaque IDs issued
// here; each worker process resolves them against its own registry.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no object exists under (category, id).
var ErrNotFound = errors.New("object not found")

// Categories with documented lifetimes.
const (
	// CategoryEngine entries are long-lived and invalidated on connection
	// mutation.
	CategoryEngine = "engine"

	// CategoryAgentBundle entries are long-lived per agent version and
	// rebuilt on agent config change.
	CategoryAgentBundle = "agent_bundle"

	// CategoryHistory entries are scoped to one run and dropped in a
	// guaranteed-release step on every exit path.
	CategoryHistory = "history_service"
)

// Registry is safe for concurrent use. It is strictly process-local:
// workers on other machines hold their own instances, and serialised state
// must never contain anything but the IDs.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]map[string]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{objects: make(map[string]map[string]any)}
}

// Put stores obj under category and returns its generated id.
func (r *Registry) Put(category string, obj any) string {
	id := uuid.New().String()
	r.PutWithID(category, id, obj)
	return id
}

// PutWithID stores obj under a caller-chosen id, replacing any previous
// entry. Used for deterministic keys such as (connection id, version).
func (r *Registry) PutWithID(category, id string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.objects[category] == nil {
		r.objects[category] = make(map[string]any)
	}
	r.objects[category][id] = obj
}

// Get returns the object stored under (category, id).
func (r *Registry) Get(category, id string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[category][id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

// Drop removes the object stored under (category, id). Dropping an absent
// id is a no-op so release steps stay idempotent.
func (r *Registry) Drop(category, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects[category], id)
}

// DropCategory removes every object in a category.
func (r *Registry) DropCategory(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, category)
}

// Len returns the number of objects in a category.
func (r *Registry) Len(category string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects[category])
}
