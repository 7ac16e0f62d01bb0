// Package kernel implements the World (spec §4.7, C7): the binding that
// wires the ID registry, ledger, artifact store, contract engine,
// permission checker and action executor into the single entry point
// hosts call — ExecuteAction — plus the kernel-level state that sits
// above all six narrow-waist components: the event stream, the
// invocation registry, mint-auction state, quotas, and trigger
// subscriptions.
package kernel

import (
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"

	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/executor"
	"github.com/agentkernel/kernel/internal/ledger"
	"github.com/agentkernel/kernel/internal/logging"
	"github.com/agentkernel/kernel/internal/permission"
	"github.com/agentkernel/kernel/internal/registry"
)

// IntentKind tags which branch of ExecuteAction an Intent dispatches to.
type IntentKind string

const (
	IntentNoop              IntentKind = "noop"
	IntentRead              IntentKind = "read"
	IntentWrite             IntentKind = "write"
	IntentEdit               IntentKind = "edit"
	IntentInvoke             IntentKind = "invoke"
	IntentDelete             IntentKind = "delete"
	IntentSubscribe          IntentKind = "subscribe"
	IntentUnsubscribe        IntentKind = "unsubscribe"
	IntentConfigureContext   IntentKind = "configure_context"
	IntentModifySystemPrompt IntentKind = "modify_system_prompt"
	IntentUpdateMetadata     IntentKind = "update_metadata"
)

// Intent is the uniform action request shape (spec §4.7): every intent
// carries the acting principal and a reasoning trace, plus whichever of
// the intent-specific fields its Kind uses. Modeled as one struct rather
// than a tagged union, since Go has no sum types and the original's
// per-intent dataclasses all funnel into the same dispatcher anyway.
type Intent struct {
	Kind        IntentKind
	PrincipalID string
	Reasoning   string

	// Read/Write/Edit/Invoke/Delete
	ArtifactID       string
	ArtifactType     string
	Content          string
	Executable       bool
	Code             string
	Price            int64
	AccessContractID string
	State            map[string]any
	Metadata         map[string]any
	OldString        string
	NewString        string
	InvokeArgs       []any

	// Subscribe/Unsubscribe
	Topic string

	// ConfigureContext
	ContextConfig map[string]any

	// ModifySystemPrompt
	SystemPrompt string

	// UpdateMetadata
	MetadataUpdates map[string]any
}

// ActionResult is the uniform shape every ExecuteAction call returns
// (spec §4.7, §7).
type ActionResult struct {
	Success           bool
	Message           string
	Data              map[string]any
	ResourcesConsumed map[string]float64
	ChargedTo         string
	ErrorCode         string
	ErrorCategory     string
	Retriable         bool
	ErrorDetails      map[string]any
}

func fromKernelError(err error) ActionResult {
	if ke, ok := errs.As(err); ok {
		return ActionResult{
			Success:       false,
			Message:       ke.Error(),
			ErrorCode:     string(ke.Code),
			ErrorCategory: string(ke.Category),
			Retriable:     ke.Retriable(),
			ErrorDetails:  ke.Details,
		}
	}
	return ActionResult{Success: false, Message: err.Error()}
}

func denyResult(reason string) ActionResult {
	return ActionResult{
		Success:       false,
		Message:       reason,
		ErrorCode:     string(errs.CodeNotAuthorized),
		ErrorCategory: string(errs.CategoryPermission),
		Retriable:     false,
	}
}

// Scorer evaluates a minted artifact's quality (spec §4.7 mint auction,
// SPEC_FULL.md §12.2). The production LLM-backed scorer is out of scope;
// hosts supply their own implementation or the bundled mock.
type Scorer interface {
	ScoreArtifact(artifactID, artifactType, content string) (int, error)
}

// World binds C1-C6 and carries the kernel-level state above them.
type World struct {
	mu sync.Mutex

	reg      *registry.Registry
	ledg     *ledger.Ledger
	store    *artifact.Store
	checker  *permission.Checker
	resolver *permission.StoreResolver
	exec     *executor.Executor
	cache    *contract.Cache
	bus      evbus.Bus
	log      *logging.Logger

	scorer    Scorer
	mintRatio int64

	llmProvider  executor.LLMProvider
	capabilities executor.Capabilities

	cacheTTL                 time.Duration
	maxContractDepth         int
	defaultOnMissingContract string
	maxInvokeDepth           int
	sandboxTimeout           time.Duration
	llmTimeout               time.Duration

	eventCounter uint64
	events       []EventRecord
	maxEvents    int

	invocations   []InvocationRecord
	maxInvocations int
	invocationStats map[pairKey]*InvocationStats

	mintSubmissions map[string]MintSubmission
	mintHeldBids    map[string]int64
	mintHistory     []MintResult

	quotaLimits map[string]map[string]float64
	quotaUsage  map[string]map[string]float64

	installedLibraries map[string][]LibraryInstall

	subscriptions map[string]map[string]func(map[string]any)

	metrics *Metrics
}

type pairKey struct {
	caller string
	target string
}

// MintSubmission mirrors original_source/.../world.py's KernelMintSubmission.
type MintSubmission struct {
	SubmissionID  string
	PrincipalID   string
	ArtifactID    string
	Bid           int64
	TickSubmitted uint64
}

// MintResult mirrors original_source/.../world.py's KernelMintResult.
type MintResult struct {
	WinnerID        string
	ArtifactID      string
	WinningBid      int64
	PricePaid       int64
	Score           int
	ScoreValid      bool
	ScripMinted     int64
	UBIDistributed  map[string]int64
	Error           string
	TickResolved    uint64
}

// LibraryInstall records one installed-package entry for an agent
// (SPEC_FULL.md §12, "Plan #29" in the original).
type LibraryInstall struct {
	Name    string
	Version string
}

// Option configures a World at construction time.
type Option func(*World)

func WithScorer(s Scorer) Option       { return func(w *World) { w.scorer = s } }
func WithMintRatio(ratio int64) Option { return func(w *World) { w.mintRatio = ratio } }
func WithMaxEvents(n int) Option       { return func(w *World) { w.maxEvents = n } }
func WithMaxInvocations(n int) Option  { return func(w *World) { w.maxInvocations = n } }
func WithLLMProvider(p executor.LLMProvider) Option {
	return func(w *World) { w.llmProvider = p }
}
func WithCapabilities(c executor.Capabilities) Option {
	return func(w *World) { w.capabilities = c }
}

// WithCacheTTL overrides the permission decision cache's TTL. Zero (the
// World default) disables caching entirely (SPEC_FULL.md §13).
func WithCacheTTL(d time.Duration) Option { return func(w *World) { w.cacheTTL = d } }

// WithMaxContractDepth overrides the contract-check recursion bound
// (permission.DefaultMaxContractDepth by default).
func WithMaxContractDepth(n int) Option { return func(w *World) { w.maxContractDepth = n } }

// WithDefaultOnMissingContract overrides which kernel contract a dangling
// access_contract_id reference falls back to.
func WithDefaultOnMissingContract(contractID string) Option {
	return func(w *World) { w.defaultOnMissingContract = contractID }
}

// WithMaxInvokeDepth overrides the artifact-to-artifact invoke recursion
// bound (executor.DefaultMaxInvokeDepth by default).
func WithMaxInvokeDepth(n int) Option { return func(w *World) { w.maxInvokeDepth = n } }

// WithSandboxTimeout overrides how long a single artifact invocation may
// run before being interrupted (executor.DefaultTimeout by default).
func WithSandboxTimeout(d time.Duration) Option { return func(w *World) { w.sandboxTimeout = d } }

// WithLLMTimeout overrides the extended timeout granted to invocations
// whose contract declares can_call_llm (executor.DefaultLLMTimeout by
// default).
func WithLLMTimeout(d time.Duration) Option { return func(w *World) { w.llmTimeout = d } }

// DefaultMintRatio matches the original's mint_ratio = 10: a submission
// scores N points and mints N/mint_ratio scrip (spec §4.7, §8 property 7).
const DefaultMintRatio = 10

// New wires a fresh World: registry, ledger, artifact store, contract
// engine, permission checker and executor, all bound together.
func New(rateTracker *ledger.RateTracker, log *logging.Logger, opts ...Option) *World {
	if log == nil {
		log = logging.NewDefault("world")
	}
	reg := registry.New()
	ledg := ledger.New(rateTracker)

	w := &World{
		reg:                      reg,
		ledg:                     ledg,
		log:                      log,
		mintRatio:                DefaultMintRatio,
		maxEvents:                2000,
		maxInvocations:           500,
		cacheTTL:                 0, // disabled by default (SPEC_FULL.md §13)
		maxContractDepth:         permission.DefaultMaxContractDepth,
		defaultOnMissingContract: permission.DefaultContractOnMissing,
		maxInvokeDepth:           executor.DefaultMaxInvokeDepth,
		sandboxTimeout:           executor.DefaultTimeout,
		llmTimeout:               executor.DefaultLLMTimeout,
		invocationStats:          make(map[pairKey]*InvocationStats),
		mintSubmissions:          make(map[string]MintSubmission),
		mintHeldBids:             make(map[string]int64),
		quotaLimits:              make(map[string]map[string]float64),
		quotaUsage:               make(map[string]map[string]float64),
		installedLibraries:       make(map[string][]LibraryInstall),
		subscriptions:            make(map[string]map[string]func(map[string]any)),
		bus:                      evbus.New(),
	}

	// Options are applied before the components that read them are built,
	// so cache TTL / depth / timeout overrides take effect at construction
	// rather than needing post-hoc setters.
	for _, opt := range opts {
		opt(w)
	}
	if w.scorer == nil {
		w.scorer = MockScorer{}
	}

	contract.SetLogger(log)
	validator := contract.NewExecutable("contract-validator", "")
	store := artifact.New(reg, validator, storeEventSink{w}, log)
	w.store = store

	w.cache = contract.NewCache(w.cacheTTL)
	w.resolver = permission.NewStoreResolver(store)
	w.checker = permission.New(w.resolver, log,
		permission.WithCache(w.cache),
		permission.WithMaxContractDepth(w.maxContractDepth),
		permission.WithDefaultOnMissing(w.defaultOnMissingContract),
	)

	execOpts := []executor.Option{
		executor.WithEventSink(execEventSink{w}),
		executor.WithMaxInvokeDepth(w.maxInvokeDepth),
		executor.WithTimeout(w.sandboxTimeout),
		executor.WithLLMTimeout(w.llmTimeout),
	}
	if w.llmProvider != nil {
		execOpts = append(execOpts, executor.WithLLMProvider(w.llmProvider))
	}
	if w.capabilities != nil {
		execOpts = append(execOpts, executor.WithCapabilities(w.capabilities))
	}
	w.exec = executor.New(store, ledg, w.checker, log, execOpts...)

	w.logEvent("world_init", map[string]any{"mint_ratio": w.mintRatio})
	return w
}

// Registry, Ledger, Store, Checker and Executor expose the bound
// components for hosts that need direct access (e.g. bootstrap seeding,
// a cmd/kerneld HTTP surface reading balances).
func (w *World) Registry() *registry.Registry   { return w.reg }
func (w *World) Ledger() *ledger.Ledger          { return w.ledg }
func (w *World) Store() *artifact.Store          { return w.store }
func (w *World) Checker() *permission.Checker    { return w.checker }
func (w *World) Executor() *executor.Executor    { return w.exec }

// ExecuteAction is the kernel's single dispatcher (spec §4.7): every
// agent action, of whichever IntentKind, flows through here and returns
// a uniform ActionResult.
func (w *World) ExecuteAction(intent Intent) ActionResult {
	var result ActionResult

	switch intent.Kind {
	case IntentNoop:
		result = ActionResult{Success: true, Message: "noop executed"}

	case IntentRead:
		result = w.executeRead(intent)

	case IntentWrite:
		result = w.executeWrite(intent)

	case IntentEdit:
		result = w.executeEdit(intent)

	case IntentInvoke:
		result = w.executeInvoke(intent)

	case IntentDelete:
		result = w.executeDelete(intent)

	case IntentSubscribe:
		result = w.executeSubscribe(intent)

	case IntentUnsubscribe:
		result = w.executeUnsubscribe(intent)

	case IntentConfigureContext:
		result = w.executeConfigureContext(intent)

	case IntentModifySystemPrompt:
		result = w.executeModifySystemPrompt(intent)

	case IntentUpdateMetadata:
		result = w.executeUpdateMetadata(intent)

	default:
		result = ActionResult{Success: false, Message: fmt.Sprintf("unknown intent kind %q", intent.Kind)}
	}

	w.logEvent("action", map[string]any{
		"kind":        string(intent.Kind),
		"principal":   intent.PrincipalID,
		"artifact_id": intent.ArtifactID,
		"success":     result.Success,
		"message":     result.Message,
	})
	w.observeAction(intent.Kind, result.Success)
	return result
}

func (w *World) executeRead(intent Intent) ActionResult {
	target, err := w.store.MustGet(intent.ArtifactID)
	if err != nil {
		return fromKernelError(err)
	}

	perm, err := w.checker.Check(permission.Request{
		Caller: intent.PrincipalID,
		Action: contract.ActionRead,
		Target: toView(target),
	}, w.ledg.ReadOnly())
	if err != nil {
		return fromKernelError(err)
	}
	if !perm.Allowed {
		return denyResult(fmt.Sprintf("access denied reading %s: %s", intent.ArtifactID, perm.Reason))
	}
	if len(perm.StateUpdates) > 0 {
		_ = w.store.ApplyStateUpdates(intent.ArtifactID, perm.StateUpdates)
	}

	if target.Deleted {
		return ActionResult{Success: true, Message: "read tombstoned artifact", Data: target.Tombstone()}
	}
	return ActionResult{Success: true, Message: "read artifact " + intent.ArtifactID, Data: map[string]any{
		"id": target.ID, "type": target.Type, "content": target.Content,
		"metadata": target.Metadata, "created_by": target.CreatedBy,
	}}
}

func (w *World) executeWrite(intent Intent) ActionResult {
	existing, exists := w.store.Get(intent.ArtifactID)
	var stateUpdates map[string]any
	if exists {
		if existing.KernelProtected {
			return denyResult("cannot modify a kernel-protected artifact: " + intent.ArtifactID)
		}
		perm, err := w.checker.Check(permission.Request{
			Caller: intent.PrincipalID,
			Action: contract.ActionWrite,
			Target: toView(existing),
		}, w.ledg.ReadOnly())
		if err != nil {
			return fromKernelError(err)
		}
		if !perm.Allowed {
			return denyResult(fmt.Sprintf("access denied writing %s: %s", intent.ArtifactID, perm.Reason))
		}
		stateUpdates = perm.StateUpdates
	}

	written, err := w.store.Write(artifact.WriteParams{
		ID: intent.ArtifactID, Type: intent.ArtifactType, Content: intent.Content,
		CreatedBy: intent.PrincipalID, Executable: intent.Executable, Code: intent.Code,
		Price: intent.Price, AccessContractID: intent.AccessContractID,
		State: intent.State, Metadata: intent.Metadata,
	})
	if err != nil {
		return fromKernelError(err)
	}
	// Applied after Write since an overwrite replaces State wholesale from
	// intent.State; any access-contract-driven state_updates must land on
	// top of that, not underneath it (spec §8 property 9).
	if len(stateUpdates) > 0 {
		_ = w.store.ApplyStateUpdates(intent.ArtifactID, stateUpdates)
	}

	if written.HasStanding {
		_ = w.ledg.CreditScrip(written.ID, 0)
	}
	if exists && existing.Executable {
		// Only executable artifacts can ever serve as another artifact's
		// access contract, so this is the full set of writes that could
		// invalidate a cached permission decision (SPEC_FULL.md §13).
		w.cache.BumpVersion(intent.ArtifactID)
		w.resolver.Invalidate(intent.ArtifactID)
	}

	return ActionResult{
		Success: true, Message: "wrote artifact " + written.ID,
		Data:      map[string]any{"artifact_id": written.ID, "created": !exists},
		ChargedTo: intent.PrincipalID,
	}
}

func (w *World) executeEdit(intent Intent) ActionResult {
	existing, err := w.store.MustGet(intent.ArtifactID)
	if err != nil {
		return fromKernelError(err)
	}

	perm, err := w.checker.Check(permission.Request{
		Caller: intent.PrincipalID,
		Action: contract.ActionEdit,
		Target: toView(existing),
	}, w.ledg.ReadOnly())
	if err != nil {
		return fromKernelError(err)
	}
	if !perm.Allowed {
		return denyResult(fmt.Sprintf("access denied editing %s: %s", intent.ArtifactID, perm.Reason))
	}
	if len(perm.StateUpdates) > 0 {
		_ = w.store.ApplyStateUpdates(intent.ArtifactID, perm.StateUpdates)
	}

	if err := w.store.Edit(intent.ArtifactID, intent.OldString, intent.NewString); err != nil {
		return fromKernelError(err)
	}
	w.cache.BumpVersion(intent.ArtifactID)
	w.resolver.Invalidate(intent.ArtifactID)
	return ActionResult{Success: true, Message: "edited artifact " + intent.ArtifactID, ChargedTo: intent.PrincipalID}
}

func (w *World) executeInvoke(intent Intent) ActionResult {
	start := time.Now()
	result := w.exec.Execute(intent.ArtifactID, intent.InvokeArgs, intent.PrincipalID, intent.PrincipalID, 0)
	elapsed := time.Since(start)
	w.recordInvocation(intent.PrincipalID, intent.ArtifactID, result.Success, elapsed)
	w.observeInvocation(result.Success, elapsed.Seconds(), result.PricePaid)

	if !result.Success {
		return ActionResult{
			Success: false, Message: result.Error, ChargedTo: intent.PrincipalID,
			ResourcesConsumed: map[string]float64{
				"cpu_seconds": result.ResourcesConsumed.CPUSeconds,
				"memory_bytes": float64(result.ResourcesConsumed.MemoryBytes),
			},
		}
	}
	return ActionResult{
		Success: true, Message: "invoked " + intent.ArtifactID,
		Data:      map[string]any{"result": result.Value, "price_paid": result.PricePaid},
		ChargedTo: intent.PrincipalID,
		ResourcesConsumed: map[string]float64{
			"cpu_seconds": result.ResourcesConsumed.CPUSeconds,
			"memory_bytes": float64(result.ResourcesConsumed.MemoryBytes),
		},
	}
}

func (w *World) executeDelete(intent Intent) ActionResult {
	existing, err := w.store.MustGet(intent.ArtifactID)
	if err != nil {
		return fromKernelError(err)
	}

	perm, err := w.checker.Check(permission.Request{
		Caller: intent.PrincipalID,
		Action: contract.ActionDelete,
		Target: toView(existing),
	}, w.ledg.ReadOnly())
	if err != nil {
		return fromKernelError(err)
	}
	if !perm.Allowed {
		return denyResult(fmt.Sprintf("access denied deleting %s: %s", intent.ArtifactID, perm.Reason))
	}

	if err := w.store.Delete(intent.ArtifactID, intent.PrincipalID); err != nil {
		return fromKernelError(err)
	}
	return ActionResult{Success: true, Message: "deleted artifact " + intent.ArtifactID, ChargedTo: intent.PrincipalID}
}

func toView(a *artifact.Artifact) permission.ArtifactView {
	return permission.ArtifactView{
		ID: a.ID, CreatedBy: a.CreatedBy, Metadata: a.Metadata,
		State: a.State, AccessContractID: a.AccessContractID,
	}
}
