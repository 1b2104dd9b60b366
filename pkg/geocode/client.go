// Package geocode verifies formatted addresses against the Google Geocoding API.
package geocode

import (
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/address-cli/internal/model"
)

// Result holds the first result Google returned for an address.
type Result struct {
	Coordinate       model.Coordinate
	LocationType     string // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	PartialMatch     bool
	FormattedAddress string
	Matched          bool // false when Google had no results
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithEndpoint points the client at another geocoding endpoint, such as a
// regional proxy or a test server.
func WithEndpoint(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.endpoint = u
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter sets the rate limiter directly.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// Client calls the Google Geocoding API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	requests   atomic.Int64
}

// NewClient creates a Google Geocoding client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(25, 25),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Requests returns the number of HTTP requests sent to Google so far,
// retries included.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}
