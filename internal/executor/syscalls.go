package executor

import (
	"context"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/permission"
)

// inject binds the kernel-facing syscalls into vm as both free functions
// and methods on an "Action" object — agents' code reaches for either
// idiom organically (spec §4.6).
func (e *Executor) inject(vm *goja.Runtime, callerID, artifactID string, nextDepth int) {
	invokeFn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue(map[string]any{"success": false, "error": "invoke requires a target id", "result": nil, "price_paid": int64(0)})
		}
		targetID := call.Arguments[0].String()
		args := make([]any, 0, len(call.Arguments)-1)
		for _, a := range call.Arguments[1:] {
			args = append(args, a.Export())
		}
		result := e.Execute(targetID, args, callerID, artifactID, nextDepth)
		return vm.ToValue(map[string]any{
			"success":    result.Success,
			"result":     result.Value,
			"error":      result.Error,
			"price_paid": result.PricePaid,
		})
	}

	readArtifactFn := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		a, err := e.store.MustGet(id)
		if err != nil {
			return vm.ToValue(map[string]any{"error": err.Error()})
		}
		perm, permErr := e.checker.Check(permission.Request{
			Caller: artifactID,
			Action: contract.ActionRead,
			Target: toView(a),
		}, e.ledg.ReadOnly())
		if permErr != nil || !perm.Allowed {
			reason := "permission denied"
			if permErr != nil {
				reason = permErr.Error()
			} else {
				reason = perm.Reason
			}
			return vm.ToValue(map[string]any{"error": reason})
		}
		e.emit(Event{Type: "artifact_read", Timestamp: time.Now().UTC(), Fields: map[string]any{
			"artifact": id, "caller": artifactID,
		}})
		if a.Deleted {
			return vm.ToValue(a.Tombstone())
		}
		return vm.ToValue(map[string]any{
			"id": a.ID, "type": a.Type, "content": a.Content,
			"metadata": a.Metadata, "created_by": a.CreatedBy,
		})
	}

	kernelQueryFn := func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		e.emit(Event{Type: "kernel_query", Timestamp: time.Now().UTC(), Fields: map[string]any{
			"kind": kind, "caller": artifactID,
		}})
		switch kind {
		case "ids_by_creator":
			principal := call.Argument(1).String()
			return vm.ToValue(e.store.ByCreator(principal))
		case "exists":
			id := call.Argument(1).String()
			_, ok := e.store.Get(id)
			return vm.ToValue(ok)
		default:
			return vm.ToValue(map[string]any{"error": "unknown kernel_query kind: " + kind})
		}
	}

	payFn := func(call goja.FunctionCall) goja.Value {
		recipient := call.Argument(0).String()
		amount := call.Argument(1).ToInteger()
		if err := e.ledg.Transfer(artifactID, recipient, amount); err != nil {
			return vm.ToValue(map[string]any{"success": false, "error": err.Error()})
		}
		return vm.ToValue(map[string]any{"success": true})
	}

	getBalanceFn := func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(e.ledg.GetScrip(artifactID))
	}

	syscallLLMFn := func(call goja.FunctionCall) goja.Value {
		if e.llm == nil || e.capabilities == nil || !e.capabilities.CanCallLLM(artifactID) {
			e.emit(Event{Type: "thinking_failed", Timestamp: time.Now().UTC(), Fields: map[string]any{
				"caller": artifactID, "reason": "can_call_llm capability not granted",
			}})
			return vm.ToValue(map[string]any{"error": "can_call_llm capability not granted"})
		}
		model := call.Argument(0).String()
		messages := decodeMessages(call.Argument(1).Export())

		ctx, cancel := context.WithTimeout(context.Background(), e.llmTimeout)
		defer cancel()

		resp, err := e.llm.Call(ctx, model, messages, nil)
		if err != nil {
			e.emit(Event{Type: "thinking_failed", Timestamp: time.Now().UTC(), Fields: map[string]any{
				"caller": artifactID, "reason": err.Error(),
			}})
			return vm.ToValue(map[string]any{"error": err.Error()})
		}

		_ = e.capabilities.DebitLLMBudget(artifactID, resp.Cost)

		reasoning := resp.Content
		if len(reasoning) > ReasoningTruncateLen {
			reasoning = reasoning[:ReasoningTruncateLen]
		}
		e.emit(Event{Type: "thinking", Timestamp: time.Now().UTC(), Fields: map[string]any{
			"caller": artifactID, "model": model, "reasoning": reasoning, "cost": resp.Cost,
		}})

		return vm.ToValue(map[string]any{
			"content": resp.Content,
			"usage": map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
			"cost":  resp.Cost,
			"model": resp.Model,
		})
	}

	_ = vm.Set("invoke", invokeFn)
	_ = vm.Set("read_artifact", readArtifactFn)
	_ = vm.Set("kernel_query", kernelQueryFn)
	_ = vm.Set("pay", payFn)
	_ = vm.Set("get_balance", getBalanceFn)
	_ = vm.Set("syscall_llm", syscallLLMFn)

	action := vm.NewObject()
	_ = action.Set("invoke", invokeFn)
	_ = action.Set("read_artifact", readArtifactFn)
	_ = action.Set("kernel_query", kernelQueryFn)
	_ = action.Set("pay", payFn)
	_ = action.Set("get_balance", getBalanceFn)
	_ = action.Set("syscall_llm", syscallLLMFn)
	_ = vm.Set("Action", action)

	console := vm.NewObject()
	_ = console.Set("log", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = vm.Set("console", console)
}

func decodeMessages(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// entryPointFromCode is factored out of run() for testability: it decides
// whether an artifact is its own gatekeeper (ADR-0024 "handle_request").
func entryPointFromCode(code string) string {
	if strings.Contains(code, "function handle_request") || strings.Contains(code, "handle_request =") {
		return "handle_request"
	}
	return "run"
}
