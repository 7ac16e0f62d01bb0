package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/errs"
)

// TestTransferConserves is spec scenario S1.
func TestTransferConserves(t *testing.T) {
	l := New(nil)
	_ = l.CreditScrip("A", 100)
	_ = l.CreditScrip("B", 50)

	if err := l.Transfer("A", "B", 30); err != nil {
		t.Fatalf("transfer: unexpected error: %v", err)
	}

	if got := l.GetScrip("A"); got != 70 {
		t.Errorf("A balance = %d, want 70", got)
	}
	if got := l.GetScrip("B"); got != 80 {
		t.Errorf("B balance = %d, want 80", got)
	}
	if total := l.TotalScrip(); total != 150 {
		t.Errorf("total scrip = %d, want 150", total)
	}
}

// TestTransferOverdraftFails is spec scenario S2.
func TestTransferOverdraftFails(t *testing.T) {
	l := New(nil)
	_ = l.CreditScrip("A", 20)

	err := l.Transfer("A", "B", 50)
	if err == nil {
		t.Fatal("expected overdraft to fail")
	}
	ke, ok := errs.As(err)
	if !ok || ke.Code != errs.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if !ke.Retriable() {
		t.Error("expected insufficient-funds error to be retriable")
	}
	if got := l.GetScrip("A"); got != 20 {
		t.Errorf("A balance mutated on failed transfer: got %d, want 20", got)
	}
	if l.GetScrip("B") != 0 {
		t.Errorf("B should not have been auto-created on a failed transfer")
	}
}

func TestTransferFromEmptyPrincipalFails(t *testing.T) {
	l := New(nil)
	if err := l.Transfer("nobody", "B", 1); err == nil {
		t.Fatal("expected transfer from an unknown (zero-balance) principal to fail")
	}
	if total := l.TotalScrip(); total != 0 {
		t.Errorf("total scrip should remain 0, got %d", total)
	}
}

// TestNoOverdraftUnderConcurrency is spec §8 property 3.
func TestNoOverdraftUnderConcurrency(t *testing.T) {
	l := New(nil)
	_ = l.CreditScrip("A", 100)

	const attempts = 50
	const amountEach = 3 // 50*3 = 150 > 100, so not all can succeed

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.DeductAsync(context.Background(), "A", amountEach)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}

	final := l.GetScrip("A")
	if final < 0 {
		t.Fatalf("balance went negative: %d", final)
	}
	if int64(succeeded)*amountEach+final != 100 {
		t.Fatalf("accounting mismatch: succeeded=%d final=%d", succeeded, final)
	}
}

func TestResourceSpendExactDecimal(t *testing.T) {
	l := New(nil)
	l.SetResource("agent-1", "cpu_seconds", decimal.NewFromFloat(0.1))

	// 0.1 + 0.2 should equal exactly 0.3 under decimal arithmetic, not the
	// classic float artifact 0.30000000000000004.
	if err := l.CreditResource("agent-1", "cpu_seconds", decimal.NewFromFloat(0.2)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	want := decimal.NewFromFloat(0.3)
	if got := l.GetResource("agent-1", "cpu_seconds"); !got.Equal(want) {
		t.Errorf("balance = %s, want %s", got, want)
	}

	if err := l.SpendResource("agent-1", "cpu_seconds", decimal.NewFromFloat(0.3)); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := l.GetResource("agent-1", "cpu_seconds"); !got.IsZero() {
		t.Errorf("balance after spend = %s, want 0", got)
	}
}

func TestSpendResourceInsufficientLeavesBalanceUntouched(t *testing.T) {
	l := New(nil)
	l.SetResource("agent-1", "disk", decimal.NewFromInt(10))

	err := l.SpendResource("agent-1", "disk", decimal.NewFromInt(20))
	if err == nil {
		t.Fatal("expected quota exceeded error")
	}
	if got := l.GetResource("agent-1", "disk"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance mutated on failed spend: got %s", got)
	}
}

func TestChargeDelegation(t *testing.T) {
	l := New(nil)
	_ = l.CreditScrip("alice", 200)

	if err := l.GrantChargeDelegation("alice", "bob", 100, 0, 0); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Alice -50, Charlie +50, Bob unchanged: spec scenario S5.
	if err := l.ChargeViaDelegation("bob", "alice", "charlie", 50); err != nil {
		t.Fatalf("charge via delegation: %v", err)
	}
	if got := l.GetScrip("alice"); got != 150 {
		t.Errorf("alice = %d, want 150", got)
	}
	if got := l.GetScrip("charlie"); got != 50 {
		t.Errorf("charlie = %d, want 50", got)
	}
	if got := l.GetScrip("bob"); got != 0 {
		t.Errorf("bob = %d, want 0 (unchanged)", got)
	}

	// Exceeding max_per_call fails.
	if err := l.ChargeViaDelegation("bob", "alice", "charlie", 1000); err == nil {
		t.Fatal("expected over-max-per-call charge to fail")
	}
}

func TestRateTrackerConsumeAndExhaustion(t *testing.T) {
	rt := NewRateTracker(map[string]WindowConfig{
		"llm_tokens": {Capacity: decimal.NewFromInt(10), Window: 0},
	})
	l := New(rt)

	if err := l.SpendResource("agent-1", "llm_tokens", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := l.SpendResource("agent-1", "llm_tokens", decimal.NewFromInt(4)); err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if err := l.SpendResource("agent-1", "llm_tokens", decimal.NewFromInt(5)); err == nil {
		t.Fatal("expected rate limit to trigger once burst capacity is exhausted")
	}
}
