package executor

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/contractid"
	"github.com/agentkernel/kernel/internal/ledger"
	"github.com/agentkernel/kernel/internal/permission"
	"github.com/agentkernel/kernel/internal/registry"
)

func newTestExecutor(t *testing.T) (*Executor, *artifact.Store, *ledger.Ledger) {
	t.Helper()
	reg := registry.New()
	store := artifact.New(reg, nil, nil, nil)
	ledg := ledger.New(nil)
	checker := permission.New(permission.NewStoreResolver(store), nil)
	return New(store, ledg, checker, nil), store, ledg
}

func TestExecuteRunsSimpleFunction(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	_, err := store.Write(artifact.WriteParams{
		ID:               "adder",
		Executable:       true,
		Code:             `function run(a, b) { return a + b; }`,
		CreatedBy:        "alice",
		AccessContractID: contractid.Public,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	result := exec.Execute("adder", []any{int64(2), int64(3)}, "alice", "alice", 0)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if v, ok := result.Value.(int64); !ok || v != 5 {
		t.Errorf("expected 5, got %#v", result.Value)
	}
}

func TestExecuteDeniesUnauthorizedCaller(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	_, _ = store.Write(artifact.WriteParams{
		ID:               "secret-tool",
		Executable:       true,
		Code:             `function run() { return "leaked"; }`,
		CreatedBy:        "alice",
		AccessContractID: contractid.Private,
	})

	result := exec.Execute("secret-tool", nil, "mallory", "mallory", 0)
	if result.Success {
		t.Fatal("expected permission denial")
	}
}

func TestExecuteRejectsNonExecutableTarget(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	_, _ = store.Write(artifact.WriteParams{ID: "doc", Content: "hello", CreatedBy: "alice"})

	result := exec.Execute("doc", nil, "alice", "alice", 0)
	if result.Success {
		t.Fatal("expected failure invoking a non-executable artifact")
	}
}

func TestExecuteInvokeDepthExceeded(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	_, _ = store.Write(artifact.WriteParams{
		ID: "recur", Executable: true, CreatedBy: "alice", AccessContractID: contractid.Public,
		Code: `function run() { return invoke("recur"); }`,
	})

	result := exec.Execute("recur", nil, "alice", "alice", exec.maxInvokeDepth)
	if result.Success {
		t.Fatal("expected immediate failure once max invoke depth is reached")
	}

	outer := exec.Execute("recur", nil, "alice", "alice", 0)
	if !outer.Success {
		t.Fatalf("outer call should itself succeed; the depth limit bites the nested invoke, got %s", outer.Error)
	}
	// Each level's value is its own invoke() result wrapping the next
	// level's; the invokes at depths 1..max-1 succeed and the one at
	// depth max is rejected.
	v := outer.Value
	for level := 1; level < exec.maxInvokeDepth; level++ {
		m, ok := v.(map[string]any)
		if !ok || m["success"] != true {
			t.Fatalf("expected the invoke() at depth %d to succeed, got %#v", level, v)
		}
		v = m["result"]
	}
	nested, ok := v.(map[string]any)
	if !ok || nested["success"] != false {
		t.Fatalf("expected the invoke() at max depth to report failure, got %#v", v)
	}
}

func TestExecutePaysCreatorOnSuccess(t *testing.T) {
	exec, store, ledg := newTestExecutor(t)
	_ = ledg.CreditScrip("buyer", 100)

	_, _ = store.Write(artifact.WriteParams{
		ID: "priced-tool", Executable: true, CreatedBy: "seller",
		AccessContractID: contractid.Public, Price: 10,
		Code: `function run() { return "ok"; }`,
	})

	result := exec.Execute("priced-tool", nil, "buyer", "buyer", 0)
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if result.PricePaid != 10 {
		t.Errorf("expected price paid 10, got %d", result.PricePaid)
	}
	if ledg.GetScrip("buyer") != 90 {
		t.Errorf("expected buyer balance 90, got %d", ledg.GetScrip("buyer"))
	}
	if ledg.GetScrip("seller") != 10 {
		t.Errorf("expected seller balance 10, got %d", ledg.GetScrip("seller"))
	}
}

func TestExecuteChargesResourcesEvenOnFailure(t *testing.T) {
	exec, store, ledg := newTestExecutor(t)
	_, _ = store.Write(artifact.WriteParams{
		ID:               "boom",
		Executable:       true,
		Code:             `function run() { throw new Error("boom"); }`,
		CreatedBy:        "alice",
		AccessContractID: contractid.Public,
	})

	funded := decimal.NewFromInt(1_000_000_000_000)
	if err := ledg.CreditResource("mallory", "memory_bytes", funded); err != nil {
		t.Fatalf("credit: %v", err)
	}

	result := exec.Execute("boom", nil, "mallory", "mallory", 0)
	if result.Success {
		t.Fatal("expected the throwing artifact to report failure")
	}

	remaining := ledg.GetResource("mallory", "memory_bytes")
	if !remaining.LessThan(funded) {
		t.Fatalf("expected memory_bytes to be charged on a failed invocation, balance unchanged at %s", remaining)
	}
}

func TestExecuteRoutesSponsoredCostThroughDelegation(t *testing.T) {
	exec, store, ledg := newTestExecutor(t)
	_ = ledg.CreditScrip("alice", 100)
	_ = ledg.GrantChargeDelegation("alice", "bob", 50, 0, 0)

	_, _ = store.Write(artifact.WriteParams{
		ID: "sponsored-tool", Executable: true, CreatedBy: "charlie",
		AccessContractID: contractid.Public, Price: 50,
		Code: `function run() { return "ok"; }`,
	})

	// A contract normally sets ScripPayer on its Result; here we exercise
	// the delegation path directly by forging the same caller/payer split
	// Execute takes when a contract sponsors a caller (S5 in the spec).
	result := exec.Execute("sponsored-tool", nil, "alice", "bob", 0)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if ledg.GetScrip("alice") != 50 {
		t.Errorf("expected sponsor alice debited to 50, got %d", ledg.GetScrip("alice"))
	}
	if ledg.GetScrip("charlie") != 50 {
		t.Errorf("expected owner charlie credited 50, got %d", ledg.GetScrip("charlie"))
	}
	if ledg.GetScrip("bob") != 0 {
		t.Errorf("expected delegate bob untouched, got %d", ledg.GetScrip("bob"))
	}
}

func TestExecuteTimesOutOnInfiniteLoop(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	_, _ = store.Write(artifact.WriteParams{
		ID: "hang", Executable: true, CreatedBy: "alice", AccessContractID: contractid.Public,
		Code: `function run() { while (true) {} }`,
	})
	exec.timeout = 20_000_000 // 20ms

	result := exec.Execute("hang", nil, "alice", "alice", 0)
	if result.Success {
		t.Fatal("expected timeout failure")
	}
}

func TestNormalizeArgParsesJSONStrings(t *testing.T) {
	v := normalizeArg(`{"a":1}`)
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %#v", v)
	}
	if m["a"].(float64) != 1 {
		t.Errorf("unexpected decoded value: %#v", m["a"])
	}

	if got := normalizeArg("plain string"); got != "plain string" {
		t.Errorf("non-JSON string should pass through unchanged, got %#v", got)
	}
}
