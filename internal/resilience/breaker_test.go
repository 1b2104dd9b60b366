package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, from.String()+"->"+to.String())
}

func googleDown(context.Context) (string, error) {
	return "", Transient(eris.New("geocode: google returned status 503"), 503)
}

func newTestBreaker(threshold int, clock *time.Time, tr *transitions) *Breaker {
	b := NewBreaker(BreakerSettings{Threshold: threshold, Cooldown: time.Minute, OnChange: tr.record})
	b.now = func() time.Time { return *clock }
	return b
}

func TestBreaker_OpensOnRepeatedGeocodeFailures(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := &transitions{}
	b := newTestBreaker(3, &clock, tr)
	ctx := context.Background()

	for range 3 {
		_, err := Guard(ctx, b, googleDown)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrOpen)
	}
	assert.Equal(t, Open, b.State())

	called := false
	_, err := Guard(ctx, b, func(context.Context) (string, error) {
		called = true
		return "ROOFTOP", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, tr.got)
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(2, &clock, &transitions{})
	ctx := context.Background()

	_, _ = Guard(ctx, b, googleDown)
	_, err := Guard(ctx, b, func(context.Context) (string, error) { return "ROOFTOP", nil })
	require.NoError(t, err)
	_, _ = Guard(ctx, b, googleDown)

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(1, &clock, &transitions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		_, err := Guard(ctx, b, func(ctx context.Context) (string, error) {
			return "", eris.Wrap(ctx.Err(), "geocode: google request")
		})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_TrialCallAfterCooldown(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := &transitions{}
	b := newTestBreaker(1, &clock, tr)
	ctx := context.Background()

	_, _ = Guard(ctx, b, googleDown)
	require.Equal(t, Open, b.State())

	clock = clock.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	_, _ = Guard(ctx, b, googleDown)
	assert.Equal(t, Open, b.State(), "failed trial reopens")

	clock = clock.Add(time.Minute)
	_, err := Guard(ctx, b, func(context.Context) (string, error) { return "ROOFTOP", nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open", "half-open->open",
		"open->half-open", "half-open->closed",
	}, tr.got)
}

func TestBreaker_OneTrialInFlight(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(1, &clock, &transitions{})
	ctx := context.Background()

	_, _ = Guard(ctx, b, googleDown)
	clock = clock.Add(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := Guard(ctx, b, func(context.Context) (string, error) {
			close(started)
			<-release
			return "ROOFTOP", nil
		})
		done <- err
	}()

	<-started
	_, err := Guard(ctx, b, func(context.Context) (string, error) { return "ROOFTOP", nil })
	assert.ErrorIs(t, err, ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerFromSeconds(t *testing.T) {
	s := BreakerFromSeconds(2, 7)
	assert.Equal(t, 2, s.Threshold)
	assert.Equal(t, 7*time.Second, s.Cooldown)

	d := BreakerFromSeconds(0, -1)
	assert.Equal(t, 5, d.Threshold)
	assert.Equal(t, 30*time.Second, d.Cooldown)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
