package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuotaSource returns scripted quotas in order, repeating the last one
type fakeQuotaSource struct {
	mu     sync.Mutex
	quotas []Quota
	err    error
	calls  int
}

func (f *fakeQuotaSource) FetchQuota(context.Context) (Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Quota{}, f.err
	}
	i := f.calls - 1
	if i >= len(f.quotas) {
		i = len(f.quotas) - 1
	}
	return f.quotas[i], nil
}

// fakeClock advances only when the gate sleeps
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func TestRateGate_SuspendsUntilReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reset := clock.now.Add(10 * time.Minute)
	source := &fakeQuotaSource{quotas: []Quota{{Limit: 5000, Remaining: 5000, Reset: reset.Add(time.Hour)}}}

	gate := NewRateGate(source,
		WithQuota(Quota{Limit: 5000, Remaining: 1, Reset: reset}),
		WithRequestInterval(0),
		WithClock(clock.Now, clock.Sleep),
	)

	require.NoError(t, gate.Consume(context.Background()))
	assert.Empty(t, clock.sleeps, "first call has quota and must not wait")
	assert.Equal(t, 0, gate.Quota().Remaining)

	require.NoError(t, gate.Consume(context.Background()))
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 10*time.Minute, clock.sleeps[0])
	assert.Equal(t, 1, source.calls, "quota is re-read once after the reset")
	assert.Equal(t, 4999, gate.Quota().Remaining)
}

func TestRateGate_PrimesFromSource(t *testing.T) {
	source := &fakeQuotaSource{quotas: []Quota{{Limit: 60, Remaining: 60, Reset: time.Now().Add(time.Hour)}}}
	gate := NewRateGate(source, WithRequestInterval(0))

	require.NoError(t, gate.Consume(context.Background()))
	require.NoError(t, gate.Consume(context.Background()))

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 58, gate.Quota().Remaining)
}

func TestRateGate_ResetInPastStillRequeries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &fakeQuotaSource{quotas: []Quota{
		{Limit: 10, Remaining: 0, Reset: clock.now.Add(-time.Second)},
		{Limit: 10, Remaining: 10, Reset: clock.now.Add(time.Hour)},
	}}
	gate := NewRateGate(source,
		WithQuota(Quota{Limit: 10, Remaining: 0, Reset: clock.now.Add(-time.Minute)}),
		WithRequestInterval(0),
		WithClock(clock.Now, clock.Sleep),
	)

	require.NoError(t, gate.Consume(context.Background()))

	assert.Equal(t, []time.Duration{minResetWait, minResetWait}, clock.sleeps)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, 9, gate.Quota().Remaining)
}

func TestRateGate_SourceErrorIsReturned(t *testing.T) {
	source := &fakeQuotaSource{err: errors.New("boom")}
	gate := NewRateGate(source, WithRequestInterval(0))

	err := gate.Consume(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestRateGate_CancelledWhileWaiting(t *testing.T) {
	source := &fakeQuotaSource{quotas: []Quota{{Limit: 1, Remaining: 1}}}
	gate := NewRateGate(source,
		WithQuota(Quota{Limit: 1, Remaining: 0, Reset: time.Now().Add(time.Hour)}),
		WithRequestInterval(0),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gate.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateGate_Observe(t *testing.T) {
	gate := NewRateGate(&fakeQuotaSource{}, WithRequestInterval(0))
	reset := time.Unix(1_800_000_000, 0)

	gate.Observe(5000, 4321, reset)

	q := gate.Quota()
	assert.Equal(t, 5000, q.Limit)
	assert.Equal(t, 4321, q.Remaining)
	assert.True(t, q.Reset.Equal(reset))

	require.NoError(t, gate.Consume(context.Background()))
	assert.Equal(t, 4320, gate.Quota().Remaining)
}

func TestRateGate_QuotaReadableWhileWaiting(t *testing.T) {
	reset := time.Now().Add(time.Hour)
	source := &fakeQuotaSource{quotas: []Quota{{Limit: 10, Remaining: 10, Reset: reset.Add(time.Hour)}}}

	waiting := make(chan struct{})
	release := make(chan struct{})
	sleep := func(ctx context.Context, _ time.Duration) error {
		close(waiting)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	gate := NewRateGate(source,
		WithQuota(Quota{Limit: 10, Remaining: 0, Reset: reset}),
		WithRequestInterval(0),
		WithClock(time.Now, sleep),
	)

	done := make(chan error, 1)
	go func() { done <- gate.Consume(context.Background()) }()
	<-waiting

	read := make(chan Quota, 1)
	go func() { read <- gate.Quota() }()
	select {
	case q := <-read:
		assert.Equal(t, 0, q.Remaining)
		assert.True(t, q.Reset.Equal(reset))
	case <-time.After(time.Second):
		t.Fatal("Quota blocked while Consume was waiting for the reset")
	}

	gate.Observe(10, 0, reset)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 9, gate.Quota().Remaining)
}
