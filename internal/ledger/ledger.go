// Package ledger implements the kernel's economic and resource accounting
// (spec §4.2, C2): integer scrip, decimal resource balances, optional
// rolling-window rate limiting for renewable resources, and charge
// delegation. All mutating operations are atomic and never leave a
// negative balance (spec §8 property 2 and 3).
package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/errs"
)

// asyncLock is a context-aware mutex, standing in for the teacher's
// asyncio.Lock equivalent (spec §5: "ledger async operations acquire a
// per-store async lock"). Unlike sync.Mutex it can be acquired with a
// context that may be cancelled while waiting.
type asyncLock struct {
	ch chan struct{}
}

func newAsyncLock() *asyncLock {
	l := &asyncLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l *asyncLock) Lock() {
	<-l.ch
}

func (l *asyncLock) Unlock() {
	l.ch <- struct{}{}
}

func (l *asyncLock) LockCtx(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ledger tracks scrip (integer currency) and resource balances (exact
// decimal) per principal, with an optional rate tracker for renewable
// resources.
type Ledger struct {
	scripMu sync.Mutex
	scrip   map[string]int64

	resMu     sync.Mutex
	resources map[string]map[string]decimal.Decimal

	scripLock *asyncLock
	resLock   *asyncLock

	rateTracker *RateTracker

	delegMu     sync.Mutex
	delegations map[delegationKey]*Delegation
}

// New creates an empty ledger. rateTracker may be nil to disable
// rolling-window rate limiting entirely (all renewable resources then
// behave as plain stock resources).
func New(rateTracker *RateTracker) *Ledger {
	return &Ledger{
		scrip:       make(map[string]int64),
		resources:   make(map[string]map[string]decimal.Decimal),
		scripLock:   newAsyncLock(),
		resLock:     newAsyncLock(),
		rateTracker: rateTracker,
		delegations: make(map[delegationKey]*Delegation),
	}
}

// ---------------------------------------------------------------------
// Scrip
// ---------------------------------------------------------------------

// GetScrip returns principal's scrip balance (zero if unknown).
func (l *Ledger) GetScrip(principal string) int64 {
	l.scripMu.Lock()
	defer l.scripMu.Unlock()
	return l.scrip[principal]
}

// CreditScrip adds amount to principal's balance, auto-creating the
// principal if it doesn't yet exist. amount must be non-negative.
func (l *Ledger) CreditScrip(principal string, amount int64) error {
	if amount < 0 {
		return errs.InvalidArgument("credit amount must be non-negative")
	}
	l.scripMu.Lock()
	defer l.scripMu.Unlock()
	l.scrip[principal] += amount
	return nil
}

// DeductScrip removes amount from principal's balance. Fails with
// INSUFFICIENT_FUNDS and leaves the balance untouched if principal does
// not have enough.
func (l *Ledger) DeductScrip(principal string, amount int64) error {
	if amount < 0 {
		return errs.InvalidArgument("deduct amount must be non-negative")
	}
	l.scripMu.Lock()
	defer l.scripMu.Unlock()

	balance := l.scrip[principal]
	if balance < amount {
		return errs.InsufficientFunds(itoa(amount), itoa(balance))
	}
	l.scrip[principal] = balance - amount
	return nil
}

// Transfer moves amount of scrip from "from" to "to", atomically.
// Auto-creates "to" with a zero balance if it doesn't exist yet (so
// artifact wallets spring into existence on first payment). Fails on a
// non-positive amount or insufficient funds, leaving both balances
// unchanged; total scrip is conserved in all cases (spec §8 property 2).
func (l *Ledger) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return errs.InvalidArgument("transfer amount must be positive")
	}
	l.scripMu.Lock()
	defer l.scripMu.Unlock()

	balance := l.scrip[from]
	if balance < amount {
		return errs.InsufficientFunds(itoa(amount), itoa(balance))
	}
	l.scrip[from] = balance - amount
	l.scrip[to] += amount
	return nil
}

// TransferAsync is Transfer's context-aware, lock-serialized twin, used
// when callers may run concurrently and must observe a single
// check-then-mutate critical section (spec §8 property 3: no overdraft
// under concurrency).
func (l *Ledger) TransferAsync(ctx context.Context, from, to string, amount int64) error {
	if err := l.scripLock.LockCtx(ctx); err != nil {
		return err
	}
	defer l.scripLock.Unlock()
	return l.transferLocked(from, to, amount)
}

func (l *Ledger) transferLocked(from, to string, amount int64) error {
	if amount <= 0 {
		return errs.InvalidArgument("transfer amount must be positive")
	}
	l.scripMu.Lock()
	defer l.scripMu.Unlock()

	balance := l.scrip[from]
	if balance < amount {
		return errs.InsufficientFunds(itoa(amount), itoa(balance))
	}
	l.scrip[from] = balance - amount
	l.scrip[to] += amount
	return nil
}

// DeductAsync is DeductScrip's context-aware, lock-serialized twin.
// Concurrent callers that in total try to deduct more than the balance
// holds will see exactly those deducts that fit succeed; the final
// balance is never negative (spec §8 property 3).
func (l *Ledger) DeductAsync(ctx context.Context, principal string, amount int64) error {
	if err := l.scripLock.LockCtx(ctx); err != nil {
		return err
	}
	defer l.scripLock.Unlock()

	if amount < 0 {
		return errs.InvalidArgument("deduct amount must be non-negative")
	}
	l.scripMu.Lock()
	defer l.scripMu.Unlock()

	balance := l.scrip[principal]
	if balance < amount {
		return errs.InsufficientFunds(itoa(amount), itoa(balance))
	}
	l.scrip[principal] = balance - amount
	return nil
}

// TotalScrip returns the sum of every principal's scrip balance. Used by
// tests asserting conservation.
func (l *Ledger) TotalScrip() int64 {
	l.scripMu.Lock()
	defer l.scripMu.Unlock()
	var total int64
	for _, v := range l.scrip {
		total += v
	}
	return total
}

// ---------------------------------------------------------------------
// Resources (exact decimal)
// ---------------------------------------------------------------------

// GetResource returns principal's balance of resource as a decimal,
// defaulting to zero.
func (l *Ledger) GetResource(principal, resource string) decimal.Decimal {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	return l.getResourceLocked(principal, resource)
}

func (l *Ledger) getResourceLocked(principal, resource string) decimal.Decimal {
	bal, ok := l.resources[principal]
	if !ok {
		return decimal.Zero
	}
	amt, ok := bal[resource]
	if !ok {
		return decimal.Zero
	}
	return amt
}

// CanSpend reports whether principal currently holds at least amount of
// resource, without mutating anything.
func (l *Ledger) CanSpend(principal, resource string, amount decimal.Decimal) bool {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	return l.getResourceLocked(principal, resource).GreaterThanOrEqual(amount)
}

// SpendResource debits amount of resource from principal. If the resource
// is configured with a rate tracker window, the rolling window is
// consulted (and charged) instead of the static balance. Fails cleanly,
// leaving state untouched, if there isn't enough.
func (l *Ledger) SpendResource(principal, resource string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.InvalidArgument("spend amount must be non-negative")
	}

	if l.rateTracker != nil && l.rateTracker.Tracks(resource) {
		return l.rateTracker.Consume(principal, resource, amount)
	}

	l.resMu.Lock()
	defer l.resMu.Unlock()

	have := l.getResourceLocked(principal, resource)
	if have.LessThan(amount) {
		return errs.QuotaExceeded(resource, amount.String(), have.String())
	}
	l.setResourceLocked(principal, resource, have.Sub(amount))
	return nil
}

// CreditResource adds amount of resource to principal's static balance.
// Rate-tracked resources are credited as headroom via the tracker
// directly and are not mirrored here.
func (l *Ledger) CreditResource(principal, resource string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.InvalidArgument("credit amount must be non-negative")
	}
	l.resMu.Lock()
	defer l.resMu.Unlock()
	have := l.getResourceLocked(principal, resource)
	l.setResourceLocked(principal, resource, have.Add(amount))
	return nil
}

// SetResource overwrites principal's balance of resource outright —
// used by kernel bootstrap to grant initial budgets.
func (l *Ledger) SetResource(principal, resource string, amount decimal.Decimal) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	l.setResourceLocked(principal, resource, amount)
}

func (l *Ledger) setResourceLocked(principal, resource string, amount decimal.Decimal) {
	bal, ok := l.resources[principal]
	if !ok {
		bal = make(map[string]decimal.Decimal)
		l.resources[principal] = bal
	}
	bal[resource] = amount
}

// TransferResource moves amount of resource from "from" to "to". Fails
// cleanly, leaving both balances unchanged, if "from" doesn't have enough.
func (l *Ledger) TransferResource(from, to, resource string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return errs.InvalidArgument("transfer amount must be positive")
	}
	l.resMu.Lock()
	defer l.resMu.Unlock()

	have := l.getResourceLocked(from, resource)
	if have.LessThan(amount) {
		return errs.QuotaExceeded(resource, amount.String(), have.String())
	}
	l.setResourceLocked(from, resource, have.Sub(amount))
	toHave := l.getResourceLocked(to, resource)
	l.setResourceLocked(to, resource, toHave.Add(amount))
	return nil
}

// Balances returns a snapshot of all resource balances for principal.
func (l *Ledger) Balances(principal string) map[string]decimal.Decimal {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	out := make(map[string]decimal.Decimal)
	for k, v := range l.resources[principal] {
		out[k] = v
	}
	return out
}

// ReadOnlyView adapts a Ledger to the balance-query-only surface the
// contract engine hands to contract code (contract.ReadOnlyLedger):
// GetScrip plus a float64 GetResource, so contracts can price themselves
// off current balances without ever mutating them. Kept as a separate
// type rather than widening Ledger's own GetResource, which returns an
// exact decimal.Decimal for the ledger's internal arithmetic.
type ReadOnlyView struct {
	l *Ledger
}

// ReadOnly wraps l for handoff to contract code.
func (l *Ledger) ReadOnly() ReadOnlyView {
	return ReadOnlyView{l: l}
}

func (v ReadOnlyView) GetScrip(principal string) int64 {
	return v.l.GetScrip(principal)
}

func (v ReadOnlyView) GetResource(principal, resource string) (float64, bool) {
	f, _ := v.l.GetResource(principal, resource).Float64()
	return f, true
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
