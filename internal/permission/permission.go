// Package permission implements the kernel's permission checker (spec
// §4.5, C5): resolving an artifact's access contract, assembling the
// minimal context a contract needs, and applying the bounded-depth
// contract consultation the rest of the kernel calls into before any
// artifact access takes effect.
package permission

import (
	"fmt"

	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/logging"
)

// DefaultMaxContractDepth bounds contract-check recursion: an executable
// contract's own logic can itself touch another artifact whose contract
// must be checked, and so on. Without a bound a cycle of contracts
// referencing each other would recurse forever (spec §4.5).
const DefaultMaxContractDepth = 10

// DefaultContractOnMissing is the kernel contract substituted when an
// artifact's access_contract_id points at nothing live — a deleted
// contract artifact, a typo, a contract that was never written. The
// checker fails OPEN to this default rather than fail closed, so that a
// dangling reference degrades to "anyone can access, writer still
// controls mutation" instead of bricking the artifact (spec §4.5, ADR-0017
// in the original source).
const DefaultContractOnMissing = "kernel_contract_freeware"

// ArtifactView is the minimal read surface the checker needs from an
// artifact; callers copy these fields out of an internal/artifact.Artifact
// (see toView in internal/kernel and internal/executor).
type ArtifactView struct {
	ID               string
	CreatedBy        string
	Metadata         map[string]any
	State            map[string]any
	AccessContractID string
}

// Resolver finds an AccessContract by ID, consulting executable contract
// artifacts beyond the five kernel ones. Implementations look the ID up
// in an artifact store and wrap executable artifact code in a
// contract.Executable.
type Resolver interface {
	Resolve(contractID string) (contract.AccessContract, bool, error)
}

// Checker is the kernel's contract consultation entry point.
type Checker struct {
	resolver         Resolver
	cache            *contract.Cache
	maxDepth         int
	defaultOnMissing string
	log              *logging.Logger

	danglingCount int
}

// Option configures a Checker at construction time.
type Option func(*Checker)

// WithMaxContractDepth overrides DefaultMaxContractDepth.
func WithMaxContractDepth(n int) Option {
	return func(c *Checker) { c.maxDepth = n }
}

// WithDefaultOnMissing overrides DefaultContractOnMissing.
func WithDefaultOnMissing(contractID string) Option {
	return func(c *Checker) { c.defaultOnMissing = contractID }
}

// WithCache attaches a permission decision cache; without one, every
// check consults the contract directly.
func WithCache(cache *contract.Cache) Option {
	return func(c *Checker) { c.cache = cache }
}

// New creates a Checker. resolver looks up non-kernel (executable)
// contracts; it may be nil if the kernel is run with kernel contracts
// only.
func New(resolver Resolver, log *logging.Logger, opts ...Option) *Checker {
	if log == nil {
		log = logging.NewDefault("permission-checker")
	}
	c := &Checker{
		resolver:         resolver,
		maxDepth:         DefaultMaxContractDepth,
		defaultOnMissing: DefaultContractOnMissing,
		log:              log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request bundles everything a single permission check needs.
type Request struct {
	Caller string
	Action contract.Action
	Target ArtifactView

	// Method and Args are only meaningful for ActionInvoke.
	Method string
	Args   []any

	// Depth is the current contract recursion depth; callers invoking
	// Check from inside already-resolved contract logic should carry
	// their depth forward. Top-level callers pass 0.
	Depth int
}

// Check resolves target's access contract (kernel, executable, or the
// dangling-reference default) and asks it to decide. An exceeded depth is
// denied; a contract ID that resolves to nothing falls back to
// defaultOnMissing, and a resolver error is returned to the caller.
func (c *Checker) Check(req Request, ledger contract.ReadOnlyLedger) (contract.Result, error) {
	if req.Depth >= c.maxDepth {
		return contract.Denied(fmt.Sprintf("contract permission check depth exceeded (depth=%d, limit=%d)", req.Depth, c.maxDepth)), nil
	}

	contractID := req.Target.AccessContractID
	if contractID == "" {
		// ADR-0019 analogue: no access_contract_id set defaults to
		// creator-only access, modeled as the private kernel contract
		// keyed off target_created_by (spec §3.1 "no contract ->
		// creator-only").
		acc, _ := contract.LookupKernel("kernel_contract_private")
		ctx := c.buildContext(req, req.Target.CreatedBy)
		result, err := acc.CheckPermission(req.Caller, req.Action, req.Target.ID, ctx, ledger)
		if err == nil {
			result.Reason = "null contract: " + result.Reason
		}
		return result, err
	}

	acc, isFallback, err := c.resolve(contractID)
	if err != nil {
		return contract.Result{}, err
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(contractID, req.Target.ID, req.Action, req.Caller); ok {
			return cached, nil
		}
	}

	ctx := c.buildContext(req, "")
	result, err := acc.CheckPermission(req.Caller, req.Action, req.Target.ID, ctx, ledger)
	if err != nil {
		return contract.Result{}, err
	}

	if isFallback {
		if result.Conditions == nil {
			result.Conditions = map[string]any{}
		}
		result.Conditions["dangling_contract"] = true
		result.Conditions["original_contract_id"] = contractID
	}

	if c.cache != nil {
		c.cache.Set(contractID, req.Target.ID, req.Action, req.Caller, result)
	}

	return result, nil
}

// buildContext assembles the minimal context a contract receives: the
// target's informational created_by, its metadata, its authorization
// state under "_artifact_state" (so kernel contracts can read
// writer/principal), and method/args for invoke actions (spec §4.5).
func (c *Checker) buildContext(req Request, principalOverride string) map[string]any {
	ctx := map[string]any{
		"target_created_by": req.Target.CreatedBy,
		"target_metadata":   req.Target.Metadata,
		"_artifact_state":   req.Target.State,
	}
	if principalOverride != "" {
		ctx["_artifact_state"] = map[string]any{"principal": principalOverride}
	}
	if req.Action == contract.ActionInvoke {
		ctx["method"] = req.Method
		ctx["args"] = req.Args
	}
	return ctx
}

// resolve looks up a contract by ID: kernel contracts first, then the
// Resolver for executable artifact contracts, falling back to
// defaultOnMissing if nothing is found (ADR-0017 in the original source).
func (c *Checker) resolve(contractID string) (contract.AccessContract, bool, error) {
	if acc, ok := contract.LookupKernel(contractID); ok {
		return acc, false, nil
	}
	if c.resolver != nil {
		if acc, ok, err := c.resolver.Resolve(contractID); err != nil {
			return nil, false, err
		} else if ok {
			return acc, false, nil
		}
	}

	c.danglingCount++
	c.log.WithField("contract_id", contractID).
		WithField("fallback", c.defaultOnMissing).
		Warn("dangling contract reference, falling back to default")

	acc, ok := contract.LookupKernel(c.defaultOnMissing)
	if !ok {
		return nil, false, errs.NotFound("kernel_contract", c.defaultOnMissing)
	}
	return acc, true, nil
}

// DanglingCount reports how many checks have fallen back to the default
// contract due to a missing reference, for observability.
func (c *Checker) DanglingCount() int {
	return c.danglingCount
}
