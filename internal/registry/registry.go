// Package registry implements the kernel's single global ID namespace
// (spec §4.1, C1). No two live entities — agent, artifact, principal, or
// genesis proxy — may share an ID, regardless of category.
package registry

import (
	"sync"

	"github.com/agentkernel/kernel/internal/errs"
)

// Category tags what kind of entity an ID refers to.
type Category string

const (
	CategoryAgent     Category = "agent"
	CategoryArtifact  Category = "artifact"
	CategoryPrincipal Category = "principal"
	CategoryGenesis   Category = "genesis"
)

// Registry is the single map from ID to category.
//
// The kernel is single-writer per logical tick (spec §4.1); Registry still
// takes a mutex so tests and host code that drive it from goroutines don't
// corrupt the map, but it makes no attempt to serialize multi-step
// read-then-write sequences across await points — that is the caller's job.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]Category
}

// New creates an empty ID registry.
func New() *Registry {
	return &Registry{ids: make(map[string]Category)}
}

// Register claims id for category. It fails with a NOT_AUTHORIZED-free
// validation error (IdCollision) if id is already registered in any
// category. Only Unregister frees an ID for reuse.
func (r *Registry) Register(id string, category Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[id]; exists {
		return errs.InvalidArgument("id collision: " + id + " is already registered").WithDetail("id", id)
	}
	r.ids[id] = category
	return nil
}

// Unregister removes id from the registry. Only lifecycle-end paths
// (soft-delete, principal teardown) should call this; in practice the
// kernel keeps tombstoned IDs registered forever, so Unregister is reserved
// for IDs that were registered speculatively and never committed.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// Lookup returns the category for id, if any.
func (r *Registry) Lookup(id string) (Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cat, ok := r.ids[id]
	return cat, ok
}

// Exists is a fast existence predicate.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

// IDsByCategory enumerates all IDs currently registered under category.
func (r *Registry) IDsByCategory(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, cat := range r.ids {
		if cat == category {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the total number of registered IDs, across all categories.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
