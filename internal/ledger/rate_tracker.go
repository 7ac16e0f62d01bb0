package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/agentkernel/kernel/internal/errs"
)

// WindowConfig configures a single renewable resource's rolling window:
// Capacity amount becomes available again every Window duration, the
// same shape as the teacher's infrastructure/ratelimit.RateLimitConfig
// (requests-per-second + burst), generalized from requests to an
// arbitrary decimal resource amount. A zero Window never refills:
// Capacity is then a one-time allowance.
type WindowConfig struct {
	Capacity decimal.Decimal
	Window   time.Duration
}

type trackedResource struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	cfg     WindowConfig
}

// RateTracker backs the kernel's renewable resources with a rolling
// window: capacity refills continuously via a token-bucket limiter
// (golang.org/x/time/rate), rather than via an explicit refill action,
// matching spec's "Rolling-window rate tracker" glossary entry. It is
// keyed per (principal, resource).
type RateTracker struct {
	mu      sync.Mutex
	configs map[string]WindowConfig
	buckets map[string]*trackedResource // key: principal + "\x00" + resource
}

// NewRateTracker creates a tracker that only rate-limits the resources
// named in configs; any resource not present behaves as a plain stock
// resource on the Ledger.
func NewRateTracker(configs map[string]WindowConfig) *RateTracker {
	return &RateTracker{
		configs: configs,
		buckets: make(map[string]*trackedResource),
	}
}

// Tracks reports whether resource is configured for rate limiting.
func (rt *RateTracker) Tracks(resource string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.configs[resource]
	return ok
}

func bucketKey(principal, resource string) string {
	return principal + "\x00" + resource
}

func (rt *RateTracker) bucket(principal, resource string) (*trackedResource, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cfg, ok := rt.configs[resource]
	if !ok {
		return nil, errs.InvalidArgument("resource is not rate tracked: " + resource)
	}

	key := bucketKey(principal, resource)
	b, ok := rt.buckets[key]
	if !ok {
		limit := 0.0
		if cfg.Window > 0 {
			ratePerSec := cfg.Capacity.Div(decimal.NewFromFloat(cfg.Window.Seconds()))
			limit, _ = ratePerSec.Float64()
		}
		burst, _ := cfg.Capacity.Float64()
		b = &trackedResource{
			limiter: rate.NewLimiter(rate.Limit(limit), int(burst)),
			cfg:     cfg,
		}
		rt.buckets[key] = b
	}
	return b, nil
}

// Consume attempts to take amount from principal's rolling window for
// resource. Fails with RATE_LIMITED, leaving the window untouched, if
// there isn't enough headroom right now.
func (rt *RateTracker) Consume(principal, resource string, amount decimal.Decimal) error {
	b, err := rt.bucket(principal, resource)
	if err != nil {
		return err
	}

	amt, _ := amount.Float64()
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.limiter.AllowN(time.Now(), int(amt)) {
		return errs.RateLimited(resource)
	}
	return nil
}

// GetRemaining reports the current headroom for principal's resource, as
// a best-effort decimal snapshot of the limiter's burst capacity.
func (rt *RateTracker) GetRemaining(principal, resource string) (decimal.Decimal, error) {
	b, err := rt.bucket(principal, resource)
	if err != nil {
		return decimal.Zero, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.limiter.TokensAt(time.Now())
	return decimal.NewFromFloat(tokens), nil
}

// WaitForCapacity suspends until principal's resource window has room for
// amount, or ctx is cancelled/its deadline expires — the direct analogue
// of the teacher's rate.Limiter.Wait(ctx) used in infrastructure/ratelimit.
func (rt *RateTracker) WaitForCapacity(ctx context.Context, principal, resource string, amount decimal.Decimal) error {
	b, err := rt.bucket(principal, resource)
	if err != nil {
		return err
	}
	amt, _ := amount.Float64()
	return b.limiter.WaitN(ctx, int(amt))
}
