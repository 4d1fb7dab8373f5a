package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1}, clk)

	require.True(t, b.CanExecute())
	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure()) // third failure opens it

	assert.Equal(t, Open, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreakerNeverReopensBeforeResetTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second, HalfOpenMaxCalls: 1}, clk)

	b.RecordFailure()
	require.Equal(t, Open, b.State())

	clk.advance(9 * time.Second)
	assert.False(t, b.CanExecute())

	clk.advance(2 * time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}, clk)

	b.RecordFailure()
	clk.advance(2 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}, clk)

	b.RecordFailure()
	clk.advance(2 * time.Second)
	require.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreakerHalfOpenLimitsInFlightProbes(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}, clk)

	b.RecordFailure()
	clk.advance(2 * time.Second)
	require.True(t, b.CanExecute()) // consumes the single half-open slot
	assert.False(t, b.CanExecute())
}

func TestRecordSuccessDecrementsConsecutiveFailuresNeverBelowZero(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	b := New(Config{FailureThreshold: 5, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1}, clk)

	b.RecordSuccess()
	b.RecordSuccess()
	_, consecutive, _, _ := b.Metrics()
	assert.Equal(t, 0, consecutive)
}

func TestResetEqualsFreshBreaker(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cfg := Config{FailureThreshold: 2, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}
	b := New(cfg, clk)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	b.Reset()

	fresh := New(cfg, clk)
	assert.Equal(t, fresh.State(), b.State())
	_, c1, s1, f1 := b.Metrics()
	_, c2, s2, f2 := fresh.Metrics()
	assert.Equal(t, c2, c1)
	assert.Equal(t, s2, s1)
	assert.Equal(t, f2, f1)
}

func TestRegistryLazilyCreatesBreakers(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil)
	a := r.Get("model-a")
	require.NotNil(t, a)
	assert.Same(t, a, r.Get("model-a"))
	assert.NotSame(t, a, r.Get("model-b"))
}
