package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		c    Coordinate
		want string
	}{
		{Coordinate{Lat: 44.9778, Lng: -93.265}, "44.9778, -93.265"},
		{Coordinate{Lat: 45, Lng: -93}, "45, -93"},
		{Coordinate{Lat: 44.95145689999999, Lng: -93.0896012}, "44.95145689999999, -93.0896012"},
		{Coordinate{}, "0, 0"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.c.String())
		})
	}
}

func TestAddressRecord_JSONOmitsAbsentEncoding(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(AddressRecord{Line: 3, Unencoded: "346 SUMMER LN, MAPLEWOOD, MN, 55117"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"line":3,"unencoded":"346 SUMMER LN, MAPLEWOOD, MN, 55117"}`, string(data))
}

func TestAddressRecord_Verified(t *testing.T) {
	t.Parallel()

	assert.False(t, AddressRecord{Unencoded: "x"}.Verified())
	assert.True(t, AddressRecord{Unencoded: "x", Coordinate: &Coordinate{Lat: 1, Lng: 2}}.Verified())
}

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", string(RunStatusRunning))
	assert.Equal(t, "complete", string(RunStatusComplete))
	assert.Equal(t, "partial", string(RunStatusPartial))
	assert.Equal(t, "failed", string(RunStatusFailed))
}

func TestStatsAdd(t *testing.T) {
	t.Parallel()

	a := Stats{Lines: 2, Formatted: 2, Accepted: 1, Rejected: 1}
	b := Stats{Lines: 1, Formatted: 1, VerifyErrors: 1, Rejected: 1}
	assert.Equal(t, Stats{Lines: 3, Formatted: 3, Accepted: 1, Rejected: 2, VerifyErrors: 1}, a.Add(b))
}
