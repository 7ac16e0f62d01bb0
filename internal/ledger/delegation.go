package ledger

import (
	"time"

	"github.com/agentkernel/kernel/internal/errs"
)

// Delegation lets a principal pre-authorize another principal to charge
// scrip to them, bounded per-call and per-window (SPEC_FULL.md §12.1,
// grounded on original_source/.../ledger.py charge-delegation tests).
// This is how a "sponsor" can pay for a service invocation a delegate
// triggers on its behalf without handing over its private key equivalent.
type Delegation struct {
	From       string
	To         string
	MaxPerCall int64
	Window     time.Duration
	WindowCap  int64

	windowStart time.Time
	windowSpent int64
}

type delegationKey struct {
	from string
	to   string
}

// GrantChargeDelegation authorizes "to" to charge up to maxPerCall scrip
// per call to "from", with no more than windowCap total charged per
// window of duration window. A window opens at the first charge made
// after the previous window has elapsed. A zero window or a zero
// windowCap disables the window cap (only maxPerCall applies).
func (l *Ledger) GrantChargeDelegation(from, to string, maxPerCall, windowCap int64, window time.Duration) error {
	if maxPerCall <= 0 {
		return errs.InvalidArgument("max_per_call must be positive")
	}
	l.delegMu.Lock()
	defer l.delegMu.Unlock()
	l.delegations[delegationKey{from, to}] = &Delegation{
		From:       from,
		To:         to,
		MaxPerCall: maxPerCall,
		Window:     window,
		WindowCap:  windowCap,
	}
	return nil
}

// RevokeChargeDelegation removes any standing delegation from "from" to "to".
func (l *Ledger) RevokeChargeDelegation(from, to string) {
	l.delegMu.Lock()
	defer l.delegMu.Unlock()
	delete(l.delegations, delegationKey{from, to})
}

// ChargeViaDelegation charges amount of scrip to "payer" on behalf of
// "delegate", provided payer has an active delegation authorizing
// delegate to do so within maxPerCall and the rolling window cap. On
// success the amount is transferred from payer to recipient.
func (l *Ledger) ChargeViaDelegation(delegate, payer, recipient string, amount int64) error {
	l.delegMu.Lock()
	d, ok := l.delegations[delegationKey{payer, delegate}]
	if !ok {
		l.delegMu.Unlock()
		return errs.NotAuthorized("no charge delegation from " + payer + " to " + delegate)
	}
	if amount > d.MaxPerCall {
		l.delegMu.Unlock()
		return errs.QuotaExceeded("charge_delegation_per_call", itoa(amount), itoa(d.MaxPerCall))
	}

	if d.Window > 0 {
		now := time.Now()
		if now.Sub(d.windowStart) >= d.Window {
			d.windowStart = now
			d.windowSpent = 0
		}
		if d.WindowCap > 0 && d.windowSpent+amount > d.WindowCap {
			l.delegMu.Unlock()
			return errs.QuotaExceeded("charge_delegation_window", itoa(d.windowSpent+amount), itoa(d.WindowCap))
		}
		d.windowSpent += amount
	}
	l.delegMu.Unlock()

	return l.Transfer(payer, recipient, amount)
}

// HasChargeDelegation reports whether "to" currently holds a standing
// delegation to charge "from".
func (l *Ledger) HasChargeDelegation(from, to string) bool {
	l.delegMu.Lock()
	defer l.delegMu.Unlock()
	_, ok := l.delegations[delegationKey{from, to}]
	return ok
}
