package kernel

import (
	"time"

	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/permission"
)

// checkOwnWrite is the permission path every self-modification intent
// shares: the acting principal must hold write authority over its own
// artifact, exactly as any other artifact write would require
// (SPEC_FULL.md §12.4).
func (w *World) checkOwnWrite(principalID, targetID string) ActionResult {
	target, err := w.store.MustGet(targetID)
	if err != nil {
		return fromKernelError(err)
	}
	perm, err := w.checker.Check(permission.Request{
		Caller: principalID,
		Action: contract.ActionWrite,
		Target: toView(target),
	}, w.ledg.ReadOnly())
	if err != nil {
		return fromKernelError(err)
	}
	if !perm.Allowed {
		return denyResult("not authorized to modify " + targetID + ": " + perm.Reason)
	}
	return ActionResult{Success: true}
}

func (w *World) executeUpdateMetadata(intent Intent) ActionResult {
	if res := w.checkOwnWrite(intent.PrincipalID, intent.ArtifactID); !res.Success {
		return res
	}
	if err := w.store.UpdateMetadata(intent.ArtifactID, intent.MetadataUpdates); err != nil {
		return fromKernelError(err)
	}
	return ActionResult{Success: true, Message: "updated metadata for " + intent.ArtifactID}
}

func (w *World) executeModifySystemPrompt(intent Intent) ActionResult {
	if res := w.checkOwnWrite(intent.PrincipalID, intent.ArtifactID); !res.Success {
		return res
	}
	if err := w.store.UpdateMetadata(intent.ArtifactID, map[string]any{"system_prompt": intent.SystemPrompt}); err != nil {
		return fromKernelError(err)
	}
	return ActionResult{Success: true, Message: "modified system prompt for " + intent.ArtifactID}
}

func (w *World) executeConfigureContext(intent Intent) ActionResult {
	if res := w.checkOwnWrite(intent.PrincipalID, intent.ArtifactID); !res.Success {
		return res
	}
	if err := w.store.UpdateMetadata(intent.ArtifactID, map[string]any{"context_config": intent.ContextConfig}); err != nil {
		return fromKernelError(err)
	}
	return ActionResult{Success: true, Message: "configured context for " + intent.ArtifactID}
}

// executeSubscribe wires targetID to react to events published on Topic:
// when PublishTrigger fires the topic, targetID is invoked as if it had
// called itself (spec §4.7, SPEC_FULL.md §12.4, "topic-based trigger
// subscriptions delivered through the EventBus").
func (w *World) executeSubscribe(intent Intent) ActionResult {
	if res := w.checkOwnWrite(intent.PrincipalID, intent.ArtifactID); !res.Success {
		return res
	}

	targetID := intent.ArtifactID
	handler := func(payload map[string]any) {
		start := time.Now()
		result := w.exec.Execute(targetID, []any{payload}, targetID, targetID, 0)
		w.recordInvocation(targetID, targetID, result.Success, time.Since(start))
	}

	w.mu.Lock()
	if w.subscriptions[intent.Topic] == nil {
		w.subscriptions[intent.Topic] = make(map[string]func(map[string]any))
	}
	if _, already := w.subscriptions[intent.Topic][targetID]; already {
		w.mu.Unlock()
		return ActionResult{Success: true, Message: "already subscribed to " + intent.Topic}
	}
	w.subscriptions[intent.Topic][targetID] = handler
	w.mu.Unlock()

	_ = w.bus.Subscribe(intent.Topic, handler)
	return ActionResult{Success: true, Message: targetID + " subscribed to " + intent.Topic}
}

func (w *World) executeUnsubscribe(intent Intent) ActionResult {
	if res := w.checkOwnWrite(intent.PrincipalID, intent.ArtifactID); !res.Success {
		return res
	}

	targetID := intent.ArtifactID
	w.mu.Lock()
	handler, ok := w.subscriptions[intent.Topic][targetID]
	if ok {
		delete(w.subscriptions[intent.Topic], targetID)
	}
	w.mu.Unlock()
	if !ok {
		return ActionResult{Success: false, Message: targetID + " was not subscribed to " + intent.Topic}
	}

	_ = w.bus.Unsubscribe(intent.Topic, handler)
	return ActionResult{Success: true, Message: targetID + " unsubscribed from " + intent.Topic}
}

// PublishTrigger fires topic on the event bus, synchronously running
// every currently subscribed artifact's reaction in turn. Hosts call
// this from outside the agent loop (e.g. a tick boundary, a webhook
// adapter) to wake subscribers.
func (w *World) PublishTrigger(topic string, payload map[string]any) {
	w.bus.Publish(topic, payload)
}
