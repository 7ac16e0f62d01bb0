package permission

import (
	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/contract"
)

// StoreResolver resolves non-kernel contract IDs against the artifact
// store: the artifact must exist, be undeleted, and carry executable
// code (spec §4.4 "custom contracts are executable artifacts").
type StoreResolver struct {
	store *artifact.Store
	cache map[string]contract.AccessContract
}

// NewStoreResolver creates a resolver backed by store.
func NewStoreResolver(store *artifact.Store) *StoreResolver {
	return &StoreResolver{store: store, cache: make(map[string]contract.AccessContract)}
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(contractID string) (contract.AccessContract, bool, error) {
	if acc, ok := r.cache[contractID]; ok {
		return acc, true, nil
	}

	a, ok := r.store.Get(contractID)
	if !ok || a.Deleted || !a.Executable {
		return nil, false, nil
	}

	acc := contract.NewExecutable(contractID, a.Code)
	r.cache[contractID] = acc
	return acc, true, nil
}

// Invalidate drops a cached executable contract, e.g. after the
// underlying artifact is rewritten (spec §4.4: contract code changes
// take effect on the next check).
func (r *StoreResolver) Invalidate(contractID string) {
	delete(r.cache, contractID)
}
