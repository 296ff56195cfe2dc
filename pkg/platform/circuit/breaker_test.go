package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now), WithCooldown(10 * time.Second)}, opts...)
	return New("broker", opts...), clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker()
	assert.Equal(t, "broker", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerLifecycle(t *testing.T) {
	b, clock := newTestBreaker(WithFailureThreshold(2), WithSuccessThreshold(2))

	fallback, change := b.RecordFailure()
	assert.False(t, fallback)
	assert.False(t, change.Opened)

	fallback, change = b.RecordFailure()
	require.True(t, fallback)
	assert.True(t, change.Opened)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(), "open circuits reject calls during cooldown")

	clock.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow(), "a trial request is allowed once cooldown elapses")

	primary, change := b.RecordSuccess()
	assert.False(t, primary, "one trial request is not enough to close")
	assert.False(t, change.Closed)

	primary, change = b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestFailedTrialRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(WithFailureThreshold(1))
	b.RecordFailure()
	clock.advance(10 * time.Second)
	require.True(t, b.Allow())

	fallback, change := b.RecordFailure()
	assert.True(t, fallback)
	assert.False(t, change.Opened, "already open circuits do not report a new transition")
	assert.False(t, b.Allow())

	clock.advance(9 * time.Second)
	assert.False(t, b.Allow())
	clock.advance(time.Second)
	assert.True(t, b.Allow())
}

func TestFailuresMustBeConsecutive(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(3))
	for range 5 {
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
	}
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestTrialSuccessesMustBeConsecutive(t *testing.T) {
	b, clock := newTestBreaker(WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	clock.advance(10 * time.Second)

	b.RecordSuccess()
	b.RecordFailure()
	clock.advance(10 * time.Second)
	b.RecordSuccess()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestResetClosesImmediately(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestInvalidOptionsKeepDefaults(t *testing.T) {
	b := New("x", WithFailureThreshold(0), WithSuccessThreshold(-1), WithCooldown(0))
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 1, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}

func TestConcurrentRecordsOpenOnce(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
}
