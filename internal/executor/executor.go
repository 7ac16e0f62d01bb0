// Package executor implements the kernel's action executor (spec §4.6,
// C6): running artifact code inside a goja sandbox with a fixed set of
// kernel-facing syscalls injected, measuring the resources it consumes,
// and handling artifact-to-artifact invocation recursively.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/ledger"
	"github.com/agentkernel/kernel/internal/logging"
	"github.com/agentkernel/kernel/internal/permission"
)

// DefaultMaxInvokeDepth bounds nested artifact-to-artifact invocation
// (spec §4.6, §5 "two independent bounds"): A invokes B invokes C... up to
// this many levels before the chain is rejected outright.
const DefaultMaxInvokeDepth = 10

// DefaultTimeout bounds a single sandbox call's wall-clock time.
const DefaultTimeout = 2 * time.Second

// DefaultLLMTimeout is the higher timeout granted to executions whose
// caller contract declared the can_call_llm capability (spec §4.4).
const DefaultLLMTimeout = 30 * time.Second

// ReasoningTruncateLen bounds how much of an LLM response's reasoning is
// carried into the "thinking" event (spec §4.6).
const ReasoningTruncateLen = 2000

// ResourceUsage is the resource reading for one Execute call: CPUSeconds
// is the process CPU time the call consumed; MemoryBytes is the process's
// resident set size sampled after the call, not a per-call delta. Distinct
// from LLM token usage, which is accounted separately (spec §4.6).
type ResourceUsage struct {
	CPUSeconds  float64
	MemoryBytes uint64
}

// Result is what Execute returns.
type Result struct {
	Success           bool
	Value             any
	Error             string
	PricePaid         int64
	ResourcesConsumed ResourceUsage
}

// Event is a structured record the executor emits for observable syscalls
// (artifact_read, kernel_query, invoke_success, invoke_failure, thinking,
// thinking_failed — spec §6).
type Event struct {
	Type      string
	Timestamp time.Time
	Fields    map[string]any
}

// EventSink receives executor events.
type EventSink interface {
	Emit(Event)
}

// LLMResponse is the shape the LLM provider collaborator returns
// (spec §6 "LLM provider collaborator").
type LLMResponse struct {
	Content string
	Usage   struct {
		PromptTokens     int
		CompletionTokens int
		TotalTokens      int
	}
	Cost  float64
	Model string
}

// LLMProvider is the host-supplied callable behind syscall_llm. The core
// never calls it directly except through this injected syscall.
type LLMProvider interface {
	Call(ctx context.Context, model string, messages []map[string]any, options map[string]any) (LLMResponse, error)
}

// Capabilities reports whether the caller's contract grants the
// can_call_llm capability, and the caller's remaining llm_budget.
type Capabilities interface {
	CanCallLLM(principal string) bool
	LLMBudget(principal string) float64
	DebitLLMBudget(principal string, cost float64) error
}

// Executor runs artifact code and dispatches its syscalls.
type Executor struct {
	store        *artifact.Store
	ledg         *ledger.Ledger
	checker      *permission.Checker
	llm          LLMProvider
	capabilities Capabilities
	sink         EventSink
	log          *logging.Logger

	maxInvokeDepth int
	timeout        time.Duration
	llmTimeout     time.Duration
}

// Option configures an Executor at construction time.
type Option func(*Executor)

func WithMaxInvokeDepth(n int) Option    { return func(e *Executor) { e.maxInvokeDepth = n } }
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Executor) { e.llmTimeout = d }
}
func WithLLMProvider(p LLMProvider) Option       { return func(e *Executor) { e.llm = p } }
func WithCapabilities(c Capabilities) Option     { return func(e *Executor) { e.capabilities = c } }
func WithEventSink(sink EventSink) Option        { return func(e *Executor) { e.sink = sink } }

// New creates an Executor bound to the kernel's store, ledger and
// permission checker.
func New(store *artifact.Store, ledg *ledger.Ledger, checker *permission.Checker, log *logging.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logging.NewDefault("executor")
	}
	e := &Executor{
		store:          store,
		ledg:           ledg,
		checker:        checker,
		log:            log,
		maxInvokeDepth: DefaultMaxInvokeDepth,
		timeout:        DefaultTimeout,
		llmTimeout:     DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the target artifact's code (entry point "run", or
// "handle_request" if the artifact defines one per ADR-0024) with args,
// under the identity of callerID (the original agent, used for billing)
// and immediateCaller (who contract checks see — §4.6 "caller identity in
// chains"). depth is the current invoke-recursion depth.
func (e *Executor) Execute(targetID string, args []any, callerID, immediateCaller string, depth int) Result {
	if depth >= e.maxInvokeDepth {
		return Result{Success: false, Error: fmt.Sprintf("max invoke depth (%d) exceeded", e.maxInvokeDepth)}
	}

	target, err := e.store.MustGet(targetID)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if !target.Executable {
		return Result{Success: false, Error: fmt.Sprintf(
			"artifact %s is not executable (it's a data artifact); use read_artifact instead", targetID)}
	}

	entryPoint := entryPointFromCode(target.Code)
	hasHandleRequest := entryPoint == "handle_request"

	if !hasHandleRequest {
		result, err := e.checker.Check(permission.Request{
			Caller: immediateCaller,
			Action: contract.ActionInvoke,
			Target: toView(target),
			Method: "run",
			Args:   args,
		}, e.ledg.ReadOnly())
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		if !result.Allowed {
			e.emit(Event{Type: "invoke_failure", Timestamp: time.Now().UTC(), Fields: map[string]any{
				"target": targetID, "caller": immediateCaller, "reason": result.Reason,
			}})
			return Result{Success: false, Error: fmt.Sprintf("caller %s not allowed to invoke %s: %s", immediateCaller, targetID, result.Reason)}
		}
		if len(result.StateUpdates) > 0 {
			_ = e.store.ApplyStateUpdates(targetID, result.StateUpdates)
		}
	}

	price := target.Price
	costPayer := callerID
	if callerID == "" {
		costPayer = immediateCaller
	}
	resourcePayer := costPayer
	recipient := target.CreatedBy
	contractCost := int64(0)
	if target.AccessContractID != "" {
		result, err := e.checker.Check(permission.Request{
			Caller: immediateCaller,
			Action: contract.ActionInvoke,
			Target: toView(target),
			Method: "run",
			Args:   args,
		}, e.ledg.ReadOnly())
		if err == nil {
			contractCost = result.ScripCost
			if result.ScripPayer != "" {
				costPayer = result.ScripPayer
			}
			if result.ResourcePayer != "" {
				resourcePayer = result.ResourcePayer
			}
			if result.ScripRecipient != "" {
				recipient = result.ScripRecipient
			}
		}
	}
	totalCost := price + contractCost
	if totalCost > 0 && e.ledg.GetScrip(costPayer) < totalCost {
		return Result{Success: false, Error: fmt.Sprintf("payer %s has insufficient scrip for total cost %d", costPayer, totalCost)}
	}

	usage, value, runErr := e.run(target, entryPoint, args, callerID, targetID, depth+1)

	// Resource charges apply regardless of outcome: CPU/memory were
	// genuinely consumed even if the sandbox call went on to fail, so the
	// resource payer is charged before either return path below.
	e.chargeResources(resourcePayer, usage)

	if runErr != nil {
		e.emit(Event{Type: "invoke_failure", Timestamp: time.Now().UTC(), Fields: map[string]any{
			"target": targetID, "error": runErr.Error(),
		}})
		return Result{Success: false, Error: runErr.Error(), ResourcesConsumed: usage}
	}

	if totalCost > 0 && recipient != costPayer {
		// When the payer is not the immediate caller and has granted that
		// caller a charge delegation (spec §4.6 "caller identity in
		// chains", scenario S5 "cost delegation"), the charge goes through
		// the delegation so its max-per-call / rolling-window caps apply.
		// Otherwise the payer is charged by a direct transfer.
		var chargeErr error
		if costPayer != immediateCaller && e.ledg.HasChargeDelegation(costPayer, immediateCaller) {
			chargeErr = e.ledg.ChargeViaDelegation(immediateCaller, costPayer, recipient, totalCost)
		} else {
			chargeErr = e.ledg.Transfer(costPayer, recipient, totalCost)
		}
		if chargeErr != nil {
			return Result{Success: false, Error: chargeErr.Error(), ResourcesConsumed: usage}
		}
	}

	e.emit(Event{Type: "invoke_success", Timestamp: time.Now().UTC(), Fields: map[string]any{
		"target": targetID, "price_paid": totalCost,
	}})

	return Result{Success: true, Value: value, PricePaid: totalCost, ResourcesConsumed: usage}
}

// run executes target.Code's entryPoint(args...) in a fresh sandbox,
// injecting the kernel syscalls, and measures CPU/memory consumed.
func (e *Executor) run(target *artifact.Artifact, entryPoint string, args []any, callerID, artifactID string, nextDepth int) (ResourceUsage, any, error) {
	proc, procErr := process.NewProcess(int32(os.Getpid()))
	var before *cpuSample
	if procErr == nil {
		before = sampleCPU(proc)
	}

	vm := goja.New()
	lockdown(vm)
	e.inject(vm, callerID, artifactID, nextDepth)

	timeout := e.timeout
	if e.capabilities != nil && e.capabilities.CanCallLLM(artifactID) {
		timeout = e.llmTimeout
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunString(target.Code); err != nil {
		return ResourceUsage{}, nil, classifyErr(vm, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return ResourceUsage{}, nil, errs.RuntimeError(fmt.Errorf("entry point %q is not a function", entryPoint))
	}

	normalized := make([]goja.Value, len(args))
	for i, a := range args {
		normalized[i] = vm.ToValue(normalizeArg(a))
	}

	ret, err := fn(goja.Undefined(), normalized...)
	usage := ResourceUsage{}
	if procErr == nil {
		usage = diffCPU(before, sampleCPU(proc))
	}
	if err != nil {
		return usage, nil, classifyErr(vm, err)
	}

	return usage, ret.Export(), nil
}

// normalizeArg converts a string argument that parses as a JSON object or
// array into the corresponding collection; everything else passes through
// unchanged (spec §4.6 "argument normalization").
func normalizeArg(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return v
	}
	return decoded
}

func classifyErr(vm *goja.Runtime, err error) error {
	if interrupted, ok := vm.Interrupted(); ok && interrupted {
		return errs.Timeout("sandbox execution")
	}
	if exc, ok := err.(*goja.Exception); ok {
		return errs.RuntimeError(fmt.Errorf("%s", exc.Error()))
	}
	return errs.RuntimeError(err)
}

func lockdown(vm *goja.Runtime) {
	_ = vm.GlobalObject().Delete("eval")
}

// chargeResources debits the measured CPU/memory usage from payer's ledger
// resources. Called on both the success and failure return paths of
// Execute: physical resources were genuinely consumed by the sandbox call
// whether or not it ultimately raised, so the charge is unconditional
// (spec §4.6 "resource charges for execution apply regardless of
// success"). Best-effort: a rate-limited or insufficient-balance charge is
// logged, not surfaced as an invocation failure, since the code already
// ran and can't be un-run.
func (e *Executor) chargeResources(payer string, usage ResourceUsage) {
	if usage.CPUSeconds > 0 {
		if err := e.ledg.SpendResource(payer, "cpu_seconds", decimal.NewFromFloat(usage.CPUSeconds)); err != nil {
			e.log.WithError(err).WithField("payer", payer).Warn("failed to charge cpu_seconds for invocation")
		}
	}
	if usage.MemoryBytes > 0 {
		if err := e.ledg.SpendResource(payer, "memory_bytes", decimal.NewFromInt(int64(usage.MemoryBytes))); err != nil {
			e.log.WithError(err).WithField("payer", payer).Warn("failed to charge memory_bytes for invocation")
		}
	}
}

func (e *Executor) emit(ev Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

func toView(a *artifact.Artifact) permission.ArtifactView {
	return permission.ArtifactView{
		ID:               a.ID,
		CreatedBy:        a.CreatedBy,
		Metadata:         a.Metadata,
		State:            a.State,
		AccessContractID: a.AccessContractID,
	}
}
