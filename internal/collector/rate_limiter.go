package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kurihiro0119/github-issue-worker/internal/logger"
)

// Quota is the provider's view of the caller's API allowance
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// QuotaSource asks the provider for the current quota. It must not itself consume quota.
type QuotaSource interface {
	FetchQuota(ctx context.Context) (Quota, error)
}

// DefaultRequestInterval is the minimum spacing between outbound calls
const DefaultRequestInterval = 100 * time.Millisecond

// minResetWait is how long to back off when the provider reports an exhausted
// quota whose reset time has already passed
const minResetWait = time.Second

// RateGate gates every outbound API call against the remaining quota
type RateGate struct {
	consume  sync.Mutex
	mu       sync.Mutex
	source   QuotaSource
	quota    Quota
	primed   bool
	throttle *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// GateOption configures a RateGate
type GateOption func(*RateGate)

// WithQuota starts the gate from a known quota instead of asking the provider
func WithQuota(q Quota) GateOption {
	return func(g *RateGate) {
		g.quota = q
		g.primed = true
	}
}

// WithRequestInterval sets the minimum spacing between calls; zero disables spacing
func WithRequestInterval(d time.Duration) GateOption {
	return func(g *RateGate) {
		if d <= 0 {
			g.throttle = rate.NewLimiter(rate.Inf, 1)
			return
		}
		g.throttle = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithClock replaces the wall clock and the blocking wait, for tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) GateOption {
	return func(g *RateGate) {
		g.now = now
		g.sleep = sleep
	}
}

// NewRateGate creates a gate backed by source
func NewRateGate(source QuotaSource, opts ...GateOption) *RateGate {
	g := &RateGate{
		source:   source,
		throttle: rate.NewLimiter(rate.Every(DefaultRequestInterval), 1),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Consume takes one unit of quota for an outbound call. When the quota is used up it
// blocks until the provider's reset time and re-reads the quota before returning.
// Callers are serialized, but the quota stays readable while one of them waits.
func (g *RateGate) Consume(ctx context.Context) error {
	if err := g.throttle.Wait(ctx); err != nil {
		return err
	}

	g.consume.Lock()
	defer g.consume.Unlock()

	g.mu.Lock()
	primed := g.primed
	g.mu.Unlock()
	if !primed {
		q, err := g.source.FetchQuota(ctx)
		if err != nil {
			return err
		}
		g.setQuota(q)
	}

	for {
		g.mu.Lock()
		if g.quota.Remaining > 0 {
			g.quota.Remaining--
			g.mu.Unlock()
			return nil
		}
		reset := g.quota.Reset
		g.mu.Unlock()

		wait := reset.Sub(g.now())
		if wait <= 0 {
			wait = minResetWait
		}
		logger.Warn("Rate limit exhausted, waiting %v until %s", wait.Round(time.Second), reset.Format(time.RFC3339))
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}

		q, err := g.source.FetchQuota(ctx)
		if err != nil {
			return err
		}
		g.setQuota(q)
		logger.Info("Rate limit reset, %d/%d calls available", q.Remaining, q.Limit)
	}
}

func (g *RateGate) setQuota(q Quota) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quota = q
	g.primed = true
}

// Observe folds the rate headers of a response back into the gate
func (g *RateGate) Observe(limit, remaining int, reset time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit > 0 {
		g.quota.Limit = limit
	}
	g.quota.Remaining = remaining
	if !reset.IsZero() {
		g.quota.Reset = reset
	}
	g.primed = true
}

// Quota returns the gate's current view of the quota
func (g *RateGate) Quota() Quota {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quota
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
