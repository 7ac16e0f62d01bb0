// Package contract implements the kernel's contract-based permission
// engine (spec §4.4, C4): the five built-in kernel contracts, the
// executable-contract sandbox, and the TTL permission cache.
package contract

// Action is the kernel-facing action name a contract is asked to decide.
// Agent-facing names (read_artifact, write_artifact, ...) are aliased onto
// these before reaching contract code (spec §4.4).
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionEdit   Action = "edit"
	ActionInvoke Action = "invoke"
	ActionDelete Action = "delete"
)

// agentFacingAliases maps the agent-facing intent action names onto the
// kernel action names contract code actually sees.
var agentFacingAliases = map[string]Action{
	"read_artifact":   ActionRead,
	"write_artifact":  ActionWrite,
	"edit_artifact":   ActionEdit,
	"invoke_artifact": ActionInvoke,
	"delete_artifact": ActionDelete,
	"read":            ActionRead,
	"write":           ActionWrite,
	"edit":            ActionEdit,
	"invoke":          ActionInvoke,
	"delete":          ActionDelete,
}

// ResolveAction aliases an agent-facing or kernel action name onto the
// canonical kernel Action, per spec §4.4.
func ResolveAction(name string) (Action, bool) {
	a, ok := agentFacingAliases[name]
	return a, ok
}

// ReadOnlyLedger is the balance-query-only surface handed to contract
// code. Contracts can consult it but never mutate funds (spec §4.4).
type ReadOnlyLedger interface {
	GetScrip(principal string) int64
	GetResource(principal, resource string) (value float64, ok bool)
}

// Result is the decision a contract returns for a permission check
// (spec §3.1 "Permission decision").
type Result struct {
	Allowed  bool
	Reason   string

	ScripCost      int64
	ScripPayer     string
	ScripRecipient string
	ResourcePayer  string

	// StateUpdates, if non-nil, is merged into the target artifact's
	// State field-wise, but only if the action is ultimately permitted
	// and goes on to execute (spec §3.1, §8 property 9).
	StateUpdates map[string]any

	// Conditions carries observability annotations, e.g. a
	// dangling-contract fallback marker (spec §4.5).
	Conditions map[string]any
}

// Denied constructs a plain denial with a reason, the shape every
// fail-closed path in this package converges on (spec §7, §8 property 4).
func Denied(reason string) Result {
	return Result{Allowed: false, Reason: reason}
}

// Allow constructs a bare allow with a reason and no scrip/resource
// routing — the common case for kernel contracts' read/invoke branches.
func Allow(reason string) Result {
	return Result{Allowed: true, Reason: reason}
}

// AccessContract is implemented by every contract the engine can consult,
// kernel or executable.
type AccessContract interface {
	ContractID() string
	CheckPermission(caller string, action Action, target string, context map[string]any, ledger ReadOnlyLedger) (Result, error)
}
