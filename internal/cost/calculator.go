// Package cost estimates the spend of geocoding requests.
package cost

// Tier prices requests up to UpTo (cumulative, 0 = unbounded) at Per1000 USD
// per thousand requests.
type Tier struct {
	UpTo    int64   `yaml:"up_to" mapstructure:"up_to"`
	Per1000 float64 `yaml:"per_1000" mapstructure:"per_1000"`
}

// Rates holds geocoding price tiers in ascending UpTo order.
type Rates struct {
	Geocode []Tier `yaml:"geocode" mapstructure:"geocode"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Empty rates fall
// back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	if len(rates.Geocode) == 0 {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Geocode returns the USD cost of n geocoding requests.
func (c *Calculator) Geocode(n int64) float64 {
	var (
		total  float64
		billed int64
	)
	for _, t := range c.rates.Geocode {
		if n <= billed {
			break
		}
		upper := n
		if t.UpTo > 0 && t.UpTo < n {
			upper = t.UpTo
		}
		if upper > billed {
			total += float64(upper-billed) / 1000 * t.Per1000
			billed = upper
		}
		if t.UpTo == 0 {
			break
		}
	}
	return total
}

// DefaultRates returns Google Geocoding list prices.
func DefaultRates() Rates {
	return Rates{
		Geocode: []Tier{
			{UpTo: 100_000, Per1000: 5.00},
			{UpTo: 500_000, Per1000: 4.00},
			{Per1000: 3.00},
		},
	}
}
