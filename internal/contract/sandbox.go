package contract

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/agentkernel/kernel/internal/logging"
)

// resultLogger receives the occasional warning decodeResult needs to emit
// (e.g. a contract omitting scrip_cost). World wires its own logger in via
// SetLogger at construction time; a bare default keeps the package usable
// standalone (tests, other callers) without requiring that wiring.
var resultLogger = logging.NewDefault("contract")

// SetLogger points decodeResult's warnings at host's logger.
func SetLogger(l *logging.Logger) {
	if l != nil {
		resultLogger = l
	}
}

// DefaultContractTimeout bounds how long an executable contract's
// check_permission call may run before it is interrupted and treated as a
// fail-closed denial (spec §4.4, §7 TIMEOUT).
const DefaultContractTimeout = 200 * time.Millisecond

// Executable wraps an agent-authored contract artifact's code in a goja
// sandbox. Every call gets a fresh runtime: contracts hold no state across
// invocations, and one caller's check_permission can't leak globals into
// another's (spec §4.4 "sandboxed, fresh runtime per call").
type Executable struct {
	id      string
	code    string
	timeout time.Duration
}

// NewExecutable wraps code as an executable contract addressed by id. The
// code must define a top-level check_permission(caller, action, target,
// context) function returning a permission object or boolean.
func NewExecutable(id, code string) *Executable {
	return &Executable{id: id, code: code, timeout: DefaultContractTimeout}
}

func (e *Executable) ContractID() string { return e.id }

// ValidateCode compiles code without running it, satisfying
// artifact.CodeValidator. Used at write_artifact time so a syntactically
// broken contract is rejected before it can ever be consulted.
func (e *Executable) ValidateCode(code string) error {
	_, err := goja.Compile(e.id, code, false)
	if err != nil {
		return err
	}
	return nil
}

// CheckPermission runs the contract's check_permission function in an
// isolated runtime with dangerous builtins stripped and a wall-clock
// timeout enforced via vm.Interrupt. Any runtime error, timeout, or
// malformed return value becomes a denial: contracts fail closed, never
// open (spec §4.4, §7).
func (e *Executable) CheckPermission(caller string, action Action, target string, context map[string]any, ledger ReadOnlyLedger) (Result, error) {
	vm := goja.New()
	lockdown(vm)

	if ledger != nil {
		_ = vm.Set("ledger", ledgerProxy(vm, ledger))
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(e.timeout):
			vm.Interrupt("check_permission timeout")
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunString(e.code); err != nil {
		return Denied("executable contract failed to load: " + err.Error()), nil
	}

	fn, ok := goja.AssertFunction(vm.Get("check_permission"))
	if !ok {
		return Denied("executable contract defines no check_permission function"), nil
	}

	ret, err := fn(goja.Undefined(),
		vm.ToValue(caller),
		vm.ToValue(string(action)),
		vm.ToValue(target),
		vm.ToValue(context),
	)
	if err != nil {
		if interrupted, ok := vm.Interrupted(); ok && interrupted {
			return Denied("executable contract timed out"), nil
		}
		return Denied("executable contract raised: " + err.Error()), nil
	}

	return decodeResult(ret)
}

// decodeResult accepts either a bare boolean (shorthand for allowed with no
// routing) or a permission object mirroring Result's fields. Only "allowed"
// is load-bearing enough to deny the whole decision if malformed; every
// other field degrades to its zero value independently rather than failing
// the decode, matching the original Python contracts' per-field tolerance
// (spec "invalid types for scrip_payer/scrip_recipient/resource_payer/
// state_updates are ignored; scrip_cost is coerced and clamped").
func decodeResult(v goja.Value) (Result, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Denied("executable contract returned nothing"), nil
	}

	exported := v.Export()
	if b, ok := exported.(bool); ok {
		if b {
			return Allow("executable contract: allowed"), nil
		}
		return Denied("executable contract: denied"), nil
	}

	fields, ok := exported.(map[string]interface{})
	if !ok {
		return Denied("executable contract: malformed result shape"), nil
	}

	allowed, ok := fields["allowed"].(bool)
	if !ok {
		return Denied("executable contract: 'allowed' field must be a boolean"), nil
	}

	result := Result{Allowed: allowed, Reason: "No reason provided"}
	if reason, present := fields["reason"]; present {
		if s, ok := reason.(string); ok {
			result.Reason = s
		} else {
			result.Reason = fmt.Sprint(reason)
		}
	}

	if raw, present := fields["scrip_cost"]; present {
		if cost, ok := coerceScripCost(raw); ok {
			result.ScripCost = cost
		}
	} else {
		resultLogger.Warn("executable contract returned no scrip_cost field, defaulting to 0")
	}
	if result.ScripCost < 0 {
		result.ScripCost = 0
	}

	if payer, ok := fields["scrip_payer"].(string); ok {
		result.ScripPayer = payer
	}
	if recipient, ok := fields["scrip_recipient"].(string); ok {
		result.ScripRecipient = recipient
	}
	if resourcePayer, ok := fields["resource_payer"].(string); ok {
		result.ResourcePayer = resourcePayer
	}
	if updates, ok := fields["state_updates"].(map[string]interface{}); ok {
		result.StateUpdates = updates
	}

	return result, nil
}

// coerceScripCost converts a JS-exported value into an int64 the way the
// original contracts' int(scrip_cost) coercion does, reporting failure
// (rather than panicking or erroring the whole decode) so the caller can
// fall back to the zero default.
func coerceScripCost(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

// lockdown deletes the eval global and replaces console with a no-op
// logger (there is no filesystem/network binding by default). The
// Function constructor is not removed.
func lockdown(vm *goja.Runtime) {
	_ = vm.GlobalObject().Delete("eval")
	console := vm.NewObject()
	_ = console.Set("log", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = vm.Set("console", console)
}

// ledgerProxy exposes a read-only view of balances to contract code, so a
// contract can e.g. price itself off the caller's current scrip without
// ever being able to mutate it.
func ledgerProxy(vm *goja.Runtime, ledger ReadOnlyLedger) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("getScrip", func(call goja.FunctionCall) goja.Value {
		principal := call.Argument(0).String()
		return vm.ToValue(ledger.GetScrip(principal))
	})
	_ = obj.Set("getResource", func(call goja.FunctionCall) goja.Value {
		principal := call.Argument(0).String()
		resource := call.Argument(1).String()
		value, ok := ledger.GetResource(principal, resource)
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(value)
	})
	return obj
}
