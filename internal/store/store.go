// Package store persists parse runs, their accepted records, and the geocode cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for parse runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records
	SaveRecords(ctx context.Context, runID string, records []model.AddressRecord) (int64, error)
	RunRecords(ctx context.Context, runID string) ([]model.AddressRecord, error)
	// LatestRecords returns the records of the newest complete, verified run,
	// or an empty slice when there is none. Unverified runs carry no
	// coordinates and are never served.
	LatestRecords(ctx context.Context) ([]model.AddressRecord, error)

	// Geocode cache
	GetCachedGeocode(ctx context.Context, key string, maxAge time.Duration) (*model.GeocodeCacheEntry, error)
	SetCachedGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error
	DeleteExpiredGeocodes(ctx context.Context, maxAge time.Duration) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a store for driver ("sqlite" or "postgres") and runs its migrations.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "address-cli.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
