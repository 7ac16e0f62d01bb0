package artifact

import (
	"testing"

	"github.com/agentkernel/kernel/internal/contractid"
	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/registry"
)

func newTestStore() *Store {
	return New(registry.New(), nil, nil, nil)
}

func TestWriteAutoPopulatesWriterForFreeware(t *testing.T) {
	s := newTestStore()
	a, err := s.Write(WriteParams{
		ID:               "doc-1",
		Type:             "document",
		Content:          "hello",
		CreatedBy:        "alice",
		AccessContractID: contractid.Freeware,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if a.State["writer"] != "alice" {
		t.Errorf("expected state.writer=alice, got %v", a.State["writer"])
	}
}

func TestWriteAutoPopulatesPrincipalForPrivate(t *testing.T) {
	s := newTestStore()
	a, err := s.Write(WriteParams{
		ID:               "secret-1",
		Content:          "shh",
		CreatedBy:        "bob",
		AccessContractID: contractid.Private,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if a.State["principal"] != "bob" {
		t.Errorf("expected state.principal=bob, got %v", a.State["principal"])
	}
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	s := newTestStore()
	_, _ = s.Write(WriteParams{ID: "f", Content: "aaa bbb aaa", CreatedBy: "x"})

	if err := s.Edit("f", "zzz", "y"); err == nil {
		t.Fatal("expected not-found-in-content error")
	}
	if err := s.Edit("f", "aaa", "y"); err == nil {
		t.Fatal("expected non-unique match error")
	}
	if err := s.Edit("f", "bbb", "y"); err != nil {
		t.Fatalf("unique match should succeed: %v", err)
	}
	a, _ := s.Get("f")
	if a.Content != "aaa y aaa" {
		t.Errorf("content = %q", a.Content)
	}
}

func TestDeleteProducesTombstone(t *testing.T) {
	s := newTestStore()
	_, _ = s.Write(WriteParams{ID: "d", Content: "x", CreatedBy: "alice"})

	if err := s.Delete("d", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	a, ok := s.Get("d")
	if !ok {
		t.Fatal("tombstoned artifact should still be retrievable")
	}
	if !a.Deleted {
		t.Error("expected deleted=true")
	}

	if err := s.Edit("d", "x", "y"); err == nil {
		t.Error("expected write-path op on tombstone to fail")
	}
}

func TestWriteRejectsIDCollisionAcrossCategory(t *testing.T) {
	reg := registry.New()
	_ = reg.Register("taken", registry.CategoryAgent)
	s := New(reg, nil, nil, nil)

	_, err := s.Write(WriteParams{ID: "taken", Content: "x", CreatedBy: "a"})
	if err == nil {
		t.Fatal("expected id collision error")
	}
}

func TestStateUpdatesMergeFieldwise(t *testing.T) {
	s := newTestStore()
	_, _ = s.Write(WriteParams{
		ID:      "svc",
		Content: "x",
		State:   map[string]any{"writer": "alice", "counter": 1},
	})

	if err := s.ApplyStateUpdates("svc", map[string]any{"counter": 2, "new_field": "hi"}); err != nil {
		t.Fatalf("apply updates: %v", err)
	}

	a, _ := s.Get("svc")
	if a.State["writer"] != "alice" {
		t.Error("unrelated key 'writer' should be preserved")
	}
	if a.State["counter"] != 2 {
		t.Errorf("counter should be overwritten to 2, got %v", a.State["counter"])
	}
	if a.State["new_field"] != "hi" {
		t.Error("new key should be added")
	}
}

func TestUpdateMetadataRejectsReservedKeys(t *testing.T) {
	s := newTestStore()
	_, _ = s.Write(WriteParams{ID: "m", Content: "x"})

	err := s.UpdateMetadata("m", map[string]any{"authorized_writer": "mallory"})
	if err == nil {
		t.Fatal("expected reserved metadata key to be rejected")
	}
	ke, ok := errs.As(err)
	if !ok || ke.Code != errs.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}
