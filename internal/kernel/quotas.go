package kernel

import (
	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/registry"
)

// SetQuota sets principalID's limit for resource. Quotas are kernel
// state — physics, not a genesis artifact's own bookkeeping
// (original_source/.../world.go:1572, "Plan #42").
func (w *World) SetQuota(principalID, resource string, amount float64) error {
	if amount < 0 {
		return errs.InvalidArgument("quota amount must be non-negative")
	}
	w.mu.Lock()
	if w.quotaLimits[principalID] == nil {
		w.quotaLimits[principalID] = make(map[string]float64)
	}
	w.quotaLimits[principalID][resource] = amount
	w.mu.Unlock()

	w.logEvent("quota_set", map[string]any{"principal_id": principalID, "resource": resource, "amount": amount})
	return nil
}

// Quota returns principalID's limit for resource, or 0 if unset.
func (w *World) Quota(principalID, resource string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quotaLimits[principalID][resource]
}

// ConsumeQuota records usage against principalID's quota for resource,
// reporting false (without mutating anything) if it would exceed the
// limit.
func (w *World) ConsumeQuota(principalID, resource string, amount float64) (bool, error) {
	if amount < 0 {
		return false, errs.InvalidArgument("quota consumption must be non-negative")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	limit := w.quotaLimits[principalID][resource]
	used := w.quotaUsage[principalID][resource]
	if used+amount > limit {
		return false, nil
	}
	if w.quotaUsage[principalID] == nil {
		w.quotaUsage[principalID] = make(map[string]float64)
	}
	w.quotaUsage[principalID][resource] = used + amount
	return true, nil
}

// QuotaUsage returns how much of resource principalID has consumed so far.
func (w *World) QuotaUsage(principalID, resource string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quotaUsage[principalID][resource]
}

// AvailableCapacity returns principalID's remaining headroom for
// resource (quota minus usage, floored at zero).
func (w *World) AvailableCapacity(principalID, resource string) float64 {
	limit := w.Quota(principalID, resource)
	used := w.QuotaUsage(principalID, resource)
	if remaining := limit - used; remaining > 0 {
		return remaining
	}
	return 0
}

// IsAgentFrozen reports whether principalID has exhausted its llm_tokens
// compute resource — the kernel's single frozen/unfrozen signal
// (original_source/.../world.go:1499).
func (w *World) IsAgentFrozen(principalID string) bool {
	return w.ledg.GetResource(principalID, "llm_tokens").LessThanOrEqual(decimal.Zero)
}

// FrozenAgents lists every registered agent principal currently frozen.
func (w *World) FrozenAgents() []string {
	var frozen []string
	for _, id := range w.reg.IDsByCategory(registry.CategoryAgent) {
		if w.IsAgentFrozen(id) {
			frozen = append(frozen, id)
		}
	}
	return frozen
}

// EmitAgentFrozen logs an agent_frozen observability event.
func (w *World) EmitAgentFrozen(agentID, reason string) {
	compute, _ := w.ledg.GetResource(agentID, "llm_tokens").Float64()
	w.logEvent("agent_frozen", map[string]any{
		"agent_id": agentID, "reason": reason,
		"scrip_balance":     w.ledg.GetScrip(agentID),
		"compute_remaining": compute,
		"owned_artifacts":   w.store.ByCreator(agentID),
	})
}

// EmitAgentUnfrozen logs an agent_unfrozen observability event.
func (w *World) EmitAgentUnfrozen(agentID, unfrozenBy string) {
	w.logEvent("agent_unfrozen", map[string]any{"agent_id": agentID, "unfrozen_by": unfrozenBy})
}

// RecordLibraryInstall tracks that principalID installed a library
// (original_source/.../world.go:1666, "Plan #29").
func (w *World) RecordLibraryInstall(principalID, name, version string) {
	w.mu.Lock()
	w.installedLibraries[principalID] = append(w.installedLibraries[principalID], LibraryInstall{Name: name, Version: version})
	w.mu.Unlock()

	w.logEvent("library_installed", map[string]any{"principal_id": principalID, "library": name, "version": version})
}

// InstalledLibraries lists every library installed by principalID.
func (w *World) InstalledLibraries(principalID string) []LibraryInstall {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]LibraryInstall, len(w.installedLibraries[principalID]))
	copy(out, w.installedLibraries[principalID])
	return out
}
