// Package model holds the records produced by address parse runs.
package model

import (
	"strconv"
	"time"
)

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders "lat, lng" using the shortest decimal form of each value.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// AddressRecord is one formatted address line.
// Encoded is empty unless the address was verified.
type AddressRecord struct {
	Line       int         `json:"line"`
	Unencoded  string      `json:"unencoded"`
	Encoded    string      `json:"encoded,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Cell       string      `json:"cell,omitempty"`
}

// Verified reports whether the record carries a geocoded coordinate.
func (r AddressRecord) Verified() bool {
	return r.Coordinate != nil
}

// GeocodeCacheEntry is a cached verification outcome for one address.
// Rejected lookups are cached too, with Accepted false.
type GeocodeCacheEntry struct {
	Key          string     `json:"key"`
	Address      string     `json:"address"`
	Accepted     bool       `json:"accepted"`
	Coordinate   Coordinate `json:"coordinate"`
	LocationType string     `json:"location_type,omitempty"`
	CachedAt     time.Time  `json:"cached_at"`
}
