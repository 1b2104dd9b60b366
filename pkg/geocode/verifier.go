package geocode

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-cli/internal/model"
	"github.com/sells-group/address-cli/internal/resilience"
)

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithCache stores every completed lookup (accepted or not) in c. Entries
// older than ttl are ignored; ttl 0 keeps entries forever.
func WithCache(c Cache, ttl time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.cache = c
		v.cacheTTL = ttl
	}
}

// WithRetry sets the retry policy for transient Google failures.
func WithRetry(b resilience.Backoff) VerifierOption {
	return func(v *Verifier) {
		if b.Notify == nil {
			b.Notify = resilience.LogRetries("google", "geocode")
		}
		v.retry = b
	}
}

// WithCircuitBreaker sets the breaker guarding Google calls. Caller
// cancellation never counts as a failure.
func WithCircuitBreaker(s resilience.BreakerSettings) VerifierOption {
	return func(v *Verifier) {
		if s.OnChange == nil {
			s.OnChange = resilience.LogTransitions("google")
		}
		v.breaker = resilience.NewBreaker(s)
	}
}

// Verifier applies the rooftop acceptance policy to Google results.
type Verifier struct {
	client   *Client
	cache    Cache
	cacheTTL time.Duration
	retry    resilience.Backoff
	breaker  *resilience.Breaker
}

// NewVerifier creates a Verifier backed by client.
func NewVerifier(client *Client, opts ...VerifierOption) *Verifier {
	v := &Verifier{client: client}
	WithRetry(resilience.DefaultBackoff())(v)
	WithCircuitBreaker(resilience.DefaultBreakerSettings())(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the coordinate of address when Google reports a full
// rooftop match. Lookup failures are logged and reported as no match.
func (v *Verifier) Verify(ctx context.Context, address string) (model.Coordinate, bool) {
	coord, ok, err := v.Lookup(ctx, address)
	if err != nil {
		zap.L().Warn("geocode: verification failed",
			zap.String("address", address),
			zap.String("error_type", resilience.Classify(err)),
			zap.Error(err),
		)
		return model.Coordinate{}, false
	}
	return coord, ok
}

// Lookup is Verify without error recovery. ok is false with a nil error when
// Google answered but the match was rejected.
func (v *Verifier) Lookup(ctx context.Context, address string) (coord model.Coordinate, ok bool, err error) {
	key := CacheKey(address)
	if v.cache != nil {
		entry, cacheErr := v.cache.GetCachedGeocode(ctx, key, v.cacheTTL)
		if cacheErr != nil {
			zap.L().Warn("geocode: cache lookup failed", zap.Error(cacheErr))
		} else if entry != nil {
			zap.L().Debug("geocode cache hit", zap.String("key", key[:12]), zap.Bool("accepted", entry.Accepted))
			return entry.Coordinate, entry.Accepted, nil
		}
	}

	res, err := resilience.Guard(ctx, v.breaker, func(ctx context.Context) (*Result, error) {
		return resilience.Retry(ctx, v.retry, func(ctx context.Context) (*Result, error) {
			return v.client.Geocode(ctx, address)
		})
	})
	if err != nil {
		return model.Coordinate{}, false, eris.Wrap(err, "geocode: verify")
	}

	accepted := Accept(res)
	if !accepted {
		zap.L().Debug("geocode: match rejected",
			zap.String("address", address),
			zap.Bool("matched", res.Matched),
			zap.Bool("partial_match", res.PartialMatch),
			zap.String("location_type", res.LocationType),
		)
	}

	if v.cache != nil {
		entry := model.GeocodeCacheEntry{
			Key:          key,
			Address:      address,
			Accepted:     accepted,
			LocationType: res.LocationType,
			CachedAt:     time.Now().UTC(),
		}
		if accepted {
			entry.Coordinate = res.Coordinate
		}
		if cacheErr := v.cache.SetCachedGeocode(ctx, entry); cacheErr != nil {
			zap.L().Warn("geocode: cache store failed", zap.Error(cacheErr))
		}
	}

	if !accepted {
		return model.Coordinate{}, false, nil
	}
	return res.Coordinate, true, nil
}

// Requests returns the number of billable Google requests made so far.
// Cache hits are free and not counted.
func (v *Verifier) Requests() int64 {
	return v.client.Requests()
}

// BreakerState reports the circuit breaker state for status output.
func (v *Verifier) BreakerState() resilience.State {
	return v.breaker.State()
}
