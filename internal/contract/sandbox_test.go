package contract

import (
	"testing"
	"time"
)

func TestExecutableAllowsViaBooleanReturn(t *testing.T) {
	c := NewExecutable("artifact-contract-1", `
		function check_permission(caller, action, target, context) {
			return caller === "alice";
		}
	`)
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil || !r.Allowed {
		t.Fatalf("expected allow, got %+v err=%v", r, err)
	}
	r, err = c.CheckPermission("mallory", ActionRead, "x", nil, nil)
	if err != nil || r.Allowed {
		t.Fatalf("expected deny, got %+v err=%v", r, err)
	}
}

func TestExecutableAllowsViaObjectReturn(t *testing.T) {
	c := NewExecutable("artifact-contract-2", `
		function check_permission(caller, action, target, context) {
			return {allowed: true, reason: "custom logic", scrip_cost: 5, scrip_recipient: "bob"};
		}
	`)
	r, err := c.CheckPermission("alice", ActionInvoke, "x", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Allowed || r.ScripCost != 5 || r.ScripRecipient != "bob" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestExecutableTolerantOfMalformedAuxiliaryFields(t *testing.T) {
	c := NewExecutable("artifact-contract-2b", `
		function check_permission(caller, action, target, context) {
			return {
				allowed: true,
				scrip_cost: "12.9",
				scrip_payer: 123,
				scrip_recipient: true,
				resource_payer: ["not", "a", "string"],
				state_updates: "not an object"
			};
		}
	`)
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Allowed {
		t.Fatal("a malformed auxiliary field must not deny the whole decision")
	}
	if r.ScripCost != 12 {
		t.Fatalf("expected scrip_cost coerced from string to 12, got %d", r.ScripCost)
	}
	if r.ScripPayer != "" || r.ScripRecipient != "" || r.ResourcePayer != "" {
		t.Fatalf("invalid-typed payer/recipient fields must fall back to empty defaults: %+v", r)
	}
	if r.StateUpdates != nil {
		t.Fatalf("invalid-typed state_updates must fall back to nil, got %+v", r.StateUpdates)
	}
}

func TestExecutableNegativeScripCostClampedToZero(t *testing.T) {
	c := NewExecutable("artifact-contract-2c", `
		function check_permission(caller, action, target, context) {
			return {allowed: true, scrip_cost: -7};
		}
	`)
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ScripCost != 0 {
		t.Fatalf("negative scrip_cost must clamp to 0, got %d", r.ScripCost)
	}
}

func TestExecutableNonBoolAllowedFailsClosed(t *testing.T) {
	c := NewExecutable("artifact-contract-2d", `
		function check_permission(caller, action, target, context) {
			return {allowed: "yes"};
		}
	`)
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Allowed {
		t.Fatal("a non-boolean allowed field must deny the whole decision")
	}
}

func TestExecutableRuntimeErrorFailsClosed(t *testing.T) {
	c := NewExecutable("artifact-contract-3", `
		function check_permission(caller, action, target, context) {
			throw new Error("boom");
		}
	`)
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil {
		t.Fatalf("sandbox errors should be reported as denials, not go errors: %v", err)
	}
	if r.Allowed {
		t.Fatal("a throwing contract must fail closed")
	}
}

func TestExecutableMissingFunctionFailsClosed(t *testing.T) {
	c := NewExecutable("artifact-contract-4", `var x = 1;`)
	r, _ := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if r.Allowed {
		t.Fatal("contract with no check_permission must fail closed")
	}
}

func TestExecutableSyntaxErrorRejectedAtValidation(t *testing.T) {
	c := NewExecutable("artifact-contract-5", "")
	if err := c.ValidateCode("function check_permission( { broken"); err == nil {
		t.Fatal("expected syntax error to be rejected at validation time")
	}
}

func TestExecutableInfiniteLoopTimesOut(t *testing.T) {
	c := NewExecutable("artifact-contract-6", `
		function check_permission(caller, action, target, context) {
			while (true) {}
		}
	`)
	c.timeout = 20_000_000 // 20ms, keep the test fast
	r, err := c.CheckPermission("alice", ActionRead, "x", nil, nil)
	if err != nil {
		t.Fatalf("timeout should surface as a denial, not an error: %v", err)
	}
	if r.Allowed {
		t.Fatal("timed-out contract must fail closed")
	}
}

func TestCacheVersionBumpInvalidatesEntries(t *testing.T) {
	cache := NewCache(time.Minute)
	cache.Set("c1", "target", ActionRead, "alice", Allow("ok"))

	if _, ok := cache.Get("c1", "target", ActionRead, "alice"); !ok {
		t.Fatal("expected cache hit before version bump")
	}

	cache.BumpVersion("c1")

	if _, ok := cache.Get("c1", "target", ActionRead, "alice"); ok {
		t.Fatal("expected cache miss after version bump")
	}
}

func TestCacheZeroTTLDisablesCaching(t *testing.T) {
	cache := NewCache(0)
	cache.Set("c1", "target", ActionRead, "alice", Allow("ok"))

	if _, ok := cache.Get("c1", "target", ActionRead, "alice"); ok {
		t.Fatal("a zero TTL cache must never report a hit")
	}
}
