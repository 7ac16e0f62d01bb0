package contract

// The five built-in kernel contracts. They are not artifacts: they exist
// as soon as the world does, are addressed directly by contract_id, and
// cannot be edited or deleted. Authorization reads the target artifact's
// state fields (writer, principal) out of context["_artifact_state"] —
// never the artifact's created_by, which is informational only.

func stateField(context map[string]any, field string) (string, bool) {
	if context == nil {
		return "", false
	}
	raw, ok := context["_artifact_state"]
	if !ok {
		return "", false
	}
	state, ok := raw.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := state[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Freeware: anyone may read/invoke; only state["writer"] may write, edit
// or delete. Fails closed if no writer is set.
type Freeware struct{}

func (Freeware) ContractID() string { return "kernel_contract_freeware" }

func (Freeware) CheckPermission(caller string, action Action, target string, context map[string]any, _ ReadOnlyLedger) (Result, error) {
	return freewareLike("freeware", caller, action, context)
}

// TransferableFreeware behaves identically to Freeware today; the two
// remain distinct contract IDs because transferable_freeware signals
// trading intent to escrow/mint flows (spec §3.1).
type TransferableFreeware struct{}

func (TransferableFreeware) ContractID() string {
	return "kernel_contract_transferable_freeware"
}

func (TransferableFreeware) CheckPermission(caller string, action Action, target string, context map[string]any, _ ReadOnlyLedger) (Result, error) {
	return freewareLike("transferable_freeware", caller, action, context)
}

func freewareLike(label, caller string, action Action, context map[string]any) (Result, error) {
	writer, hasWriter := stateField(context, "writer")

	if action == ActionRead || action == ActionInvoke {
		r := Allow(label + ": open access")
		if hasWriter {
			r.ScripRecipient = writer
		}
		return r, nil
	}

	switch action {
	case ActionWrite, ActionEdit, ActionDelete:
		if !hasWriter {
			return Denied(label + ": no writer in state"), nil
		}
		if caller == writer {
			return Result{Allowed: true, Reason: label + ": authorized writer", ScripRecipient: writer}, nil
		}
		return Denied(label + ": only writer can modify"), nil
	}
	return Denied(label + ": unknown action"), nil
}

// SelfOwned: an artifact may access itself (caller == target), or its
// state["principal"] may access it. Everyone else is denied.
type SelfOwned struct{}

func (SelfOwned) ContractID() string { return "kernel_contract_self_owned" }

func (SelfOwned) CheckPermission(caller string, _ Action, target string, context map[string]any, _ ReadOnlyLedger) (Result, error) {
	principal, hasPrincipal := stateField(context, "principal")

	if caller == target {
		r := Allow("self_owned: self access")
		if hasPrincipal {
			r.ScripRecipient = principal
		}
		return r, nil
	}
	if hasPrincipal && caller == principal {
		return Result{Allowed: true, Reason: "self_owned: authorized principal", ScripRecipient: principal}, nil
	}
	return Denied("self_owned: access denied"), nil
}

// Private: only state["principal"] may access, for any action — not even
// the artifact itself. The most restrictive kernel contract.
type Private struct{}

func (Private) ContractID() string { return "kernel_contract_private" }

func (Private) CheckPermission(caller string, _ Action, _ string, context map[string]any, _ ReadOnlyLedger) (Result, error) {
	principal, hasPrincipal := stateField(context, "principal")
	if hasPrincipal && caller == principal {
		return Result{Allowed: true, Reason: "private: authorized principal", ScripRecipient: principal}, nil
	}
	return Denied("private: access denied"), nil
}

// Public: anyone may do anything. A true commons; can be deleted or
// transferred by any caller, so use with care.
type Public struct{}

func (Public) ContractID() string { return "kernel_contract_public" }

func (Public) CheckPermission(_ string, _ Action, _ string, _ map[string]any, _ ReadOnlyLedger) (Result, error) {
	return Allow("public: open access"), nil
}

// Kernel is the fixed registry of built-in contracts, addressable by their
// contract_id from world initialization onward (spec §3.1).
var Kernel = map[string]AccessContract{
	Freeware{}.ContractID():              Freeware{},
	TransferableFreeware{}.ContractID():  TransferableFreeware{},
	SelfOwned{}.ContractID():             SelfOwned{},
	Private{}.ContractID():               Private{},
	Public{}.ContractID():                Public{},
}

// LookupKernel returns the kernel contract for id, if any.
func LookupKernel(id string) (AccessContract, bool) {
	c, ok := Kernel[id]
	return c, ok
}
