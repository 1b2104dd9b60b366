package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-cli/internal/model"
	"github.com/sells-group/address-cli/internal/resilience"
)

// DefaultEndpoint is the Google Geocoding API JSON endpoint.
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// LocationRooftop is the only location_type precise enough to accept.
const LocationRooftop = "ROOFTOP"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
	PartialMatch     bool   `json:"partial_match"`
}

// Geocode looks up a single one-line address. A ZERO_RESULTS answer is not an
// error; it yields a Result with Matched false. Throttling and server-side
// failures are marked with resilience.Transient.
func (c *Client) Geocode(ctx context.Context, address string) (*Result, error) {
	if c.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {address},
		"key":     {c.apiKey},
	}

	reqURL := c.endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	c.requests.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "geocode: google request")
		}
		return nil, resilience.Transient(eris.Wrap(err, "geocode: google request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: google read body"), 0)
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Matched: false}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.Transient(
			eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage), 0)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}

	if len(googleResp.Results) == 0 {
		return &Result{Matched: false}, nil
	}

	first := googleResp.Results[0]
	return &Result{
		Coordinate: model.Coordinate{
			Lat: first.Geometry.Location.Lat,
			Lng: first.Geometry.Location.Lng,
		},
		LocationType:     first.Geometry.LocationType,
		PartialMatch:     first.PartialMatch,
		FormattedAddress: first.FormattedAddress,
		Matched:          true,
	}, nil
}

// Accept reports whether r is a high-confidence match: a full (not partial)
// match with rooftop precision.
func Accept(r *Result) bool {
	return r != nil && r.Matched && !r.PartialMatch && r.LocationType == LocationRooftop
}
