package permission

import (
	"testing"

	"github.com/agentkernel/kernel/internal/artifact"
	"github.com/agentkernel/kernel/internal/contract"
	"github.com/agentkernel/kernel/internal/contractid"
	"github.com/agentkernel/kernel/internal/registry"
)

func TestCheckFreewareWriterOnly(t *testing.T) {
	c := New(nil, nil)
	target := ArtifactView{
		ID:               "doc-1",
		CreatedBy:        "alice",
		AccessContractID: contractid.Freeware,
		State:            map[string]any{"writer": "alice"},
	}

	r, err := c.Check(Request{Caller: "mallory", Action: contract.ActionWrite, Target: target}, nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if r.Allowed {
		t.Fatal("non-writer should be denied")
	}

	r, err = c.Check(Request{Caller: "alice", Action: contract.ActionWrite, Target: target}, nil)
	if err != nil || !r.Allowed {
		t.Fatalf("writer should be allowed, got %+v err=%v", r, err)
	}
}

func TestCheckNullContractDefaultsToCreatorOnly(t *testing.T) {
	c := New(nil, nil)
	target := ArtifactView{ID: "x", CreatedBy: "alice"}

	r, _ := c.Check(Request{Caller: "alice", Action: contract.ActionRead, Target: target}, nil)
	if !r.Allowed {
		t.Fatal("creator should be allowed by default on a null contract")
	}
	r, _ = c.Check(Request{Caller: "mallory", Action: contract.ActionRead, Target: target}, nil)
	if r.Allowed {
		t.Fatal("non-creator should be denied by default on a null contract")
	}
}

func TestCheckDanglingContractFallsBackToFreeware(t *testing.T) {
	c := New(nil, nil)
	target := ArtifactView{
		ID:               "x",
		CreatedBy:        "alice",
		AccessContractID: "artifact-does-not-exist",
		State:            map[string]any{"writer": "alice"},
	}

	r, err := c.Check(Request{Caller: "anyone", Action: contract.ActionRead, Target: target}, nil)
	if err != nil || !r.Allowed {
		t.Fatalf("dangling contract read should open-fallback-allow, got %+v err=%v", r, err)
	}
	if r.Conditions["dangling_contract"] != true {
		t.Error("expected dangling_contract condition to be set")
	}
	if c.DanglingCount() != 1 {
		t.Errorf("expected dangling count 1, got %d", c.DanglingCount())
	}
}

func TestCheckDepthExceededFailsClosed(t *testing.T) {
	c := New(nil, nil)
	target := ArtifactView{ID: "x", AccessContractID: contractid.Public}

	r, err := c.Check(Request{Caller: "anyone", Action: contract.ActionRead, Target: target, Depth: DefaultMaxContractDepth}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Allowed {
		t.Fatal("depth-exceeded check must fail closed even against the public contract")
	}
}

func TestStoreResolverResolvesExecutableContractArtifact(t *testing.T) {
	store := artifact.New(registry.New(), nil, nil, nil)
	_, err := store.Write(artifact.WriteParams{
		ID:         "custom-contract",
		Executable: true,
		Code: `function check_permission(caller, action, target, context) {
			return caller === "alice";
		}`,
	})
	if err != nil {
		t.Fatalf("write contract artifact: %v", err)
	}

	resolver := NewStoreResolver(store)
	c := New(resolver, nil)

	target := ArtifactView{ID: "doc-1", AccessContractID: "custom-contract"}
	r, err := c.Check(Request{Caller: "alice", Action: contract.ActionInvoke, Target: target}, nil)
	if err != nil || !r.Allowed {
		t.Fatalf("expected allow for alice, got %+v err=%v", r, err)
	}

	r, err = c.Check(Request{Caller: "mallory", Action: contract.ActionInvoke, Target: target}, nil)
	if err != nil || r.Allowed {
		t.Fatalf("expected deny for mallory, got %+v err=%v", r, err)
	}
}
