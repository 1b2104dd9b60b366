package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/address-cli/internal/db"
	"github.com/sells-group/address-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Verified records also carry a
// PostGIS point so the table can be joined spatially.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	schema_name  TEXT NOT NULL,
	verified     BOOLEAN NOT NULL DEFAULT false,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS address_records (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line      INTEGER NOT NULL,
	unencoded TEXT NOT NULL,
	encoded   TEXT,
	lat       DOUBLE PRECISION,
	lng       DOUBLE PRECISION,
	cell      TEXT,
	location  geometry(Point, 4326),
	PRIMARY KEY (run_id, line)
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash  TEXT PRIMARY KEY,
	address       TEXT NOT NULL,
	accepted      BOOLEAN NOT NULL,
	lat           DOUBLE PRECISION,
	lng           DOUBLE PRECISION,
	location_type TEXT,
	cached_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_address_records_location ON address_records USING GIST(location);
CREATE INDEX IF NOT EXISTS idx_address_records_cell ON address_records(cell);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache(cached_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.CompletedAt = nil

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, schema_name, verified, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Source, run.SchemaName, run.Verified, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stats = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), statsJSON, nullIfEmpty(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, source, schema_name, verified, status, stats, error, created_at, completed_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var (
		r         model.Run
		status    string
		statsJSON []byte
		runErr    *string
	)
	err := row.Scan(&r.ID, &r.Source, &r.SchemaName, &r.Verified, &status, &statsJSON, &runErr, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	r.Status = model.RunStatus(status)
	if runErr != nil {
		r.Error = *runErr
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	return &r, nil
}

var recordColumns = []string{"run_id", "line", "unencoded", "encoded", "lat", "lng", "cell", "location"}

// SaveRecords replaces the records of a run using COPY.
func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []model.AddressRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		row, err := recordRow(runID, r)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	var n int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM address_records WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "postgres: clear records for run %s", runID)
		}
		var copyErr error
		n, copyErr = db.CopyFrom(ctx, tx, "address_records", recordColumns, rows)
		return copyErr
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save records")
	}
	return n, nil
}

// recordRow builds the COPY row for r. The location is EWKB with SRID 4326.
func recordRow(runID string, r model.AddressRecord) ([]any, error) {
	var lat, lng, location any
	if r.Coordinate != nil {
		lat, lng = r.Coordinate.Lat, r.Coordinate.Lng
		point := geom.NewPointFlat(geom.XY, []float64{r.Coordinate.Lng, r.Coordinate.Lat}).SetSRID(4326)
		wkb, err := ewkb.Marshal(point, ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode location for line %d", r.Line)
		}
		location = wkb
	}
	return []any{runID, r.Line, r.Unencoded, nullIfEmpty(r.Encoded), lat, lng, nullIfEmpty(r.Cell), location}, nil
}

func (s *PostgresStore) RunRecords(ctx context.Context, runID string) ([]model.AddressRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT line, unencoded, encoded, lat, lng, cell FROM address_records WHERE run_id = $1 ORDER BY line`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: records for run %s", runID)
	}
	defer rows.Close()

	records := []model.AddressRecord{}
	for rows.Next() {
		var (
			r             model.AddressRecord
			encoded, cell *string
			lat, lng      *float64
		)
		if err := rows.Scan(&r.Line, &r.Unencoded, &encoded, &lat, &lng, &cell); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if encoded != nil {
			r.Encoded = *encoded
		}
		if cell != nil {
			r.Cell = *cell
		}
		if lat != nil && lng != nil {
			r.Coordinate = &model.Coordinate{Lat: *lat, Lng: *lng}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: records iterate")
}

func (s *PostgresStore) LatestRecords(ctx context.Context) ([]model.AddressRecord, error) {
	var runID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM runs WHERE status = $1 AND verified ORDER BY created_at DESC LIMIT 1`,
		string(model.RunStatusComplete),
	).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []model.AddressRecord{}, nil
		}
		return nil, eris.Wrap(err, "postgres: latest run")
	}
	return s.RunRecords(ctx, runID)
}

func (s *PostgresStore) GetCachedGeocode(ctx context.Context, key string, maxAge time.Duration) (*model.GeocodeCacheEntry, error) {
	query := `SELECT address_hash, address, accepted, lat, lng, location_type, cached_at FROM geocode_cache WHERE address_hash = $1`
	args := []any{key}
	if maxAge > 0 {
		query += ` AND cached_at > $2`
		args = append(args, time.Now().UTC().Add(-maxAge))
	}

	var (
		e            model.GeocodeCacheEntry
		lat, lng     *float64
		locationType *string
	)
	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&e.Key, &e.Address, &e.Accepted, &lat, &lng, &locationType, &e.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached geocode")
	}
	if lat != nil && lng != nil {
		e.Coordinate = model.Coordinate{Lat: *lat, Lng: *lng}
	}
	if locationType != nil {
		e.LocationType = *locationType
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	var lat, lng any
	if entry.Accepted {
		lat, lng = entry.Coordinate.Lat, entry.Coordinate.Lng
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (address_hash, address, accepted, lat, lng, location_type, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address_hash) DO UPDATE SET
			address = EXCLUDED.address,
			accepted = EXCLUDED.accepted,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			location_type = EXCLUDED.location_type,
			cached_at = EXCLUDED.cached_at`,
		entry.Key, entry.Address, entry.Accepted, lat, lng, nullIfEmpty(entry.LocationType), entry.CachedAt,
	)
	return eris.Wrap(err, "postgres: set cached geocode")
}

func (s *PostgresStore) DeleteExpiredGeocodes(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM geocode_cache WHERE cached_at <= $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired geocodes")
	}
	return int(tag.RowsAffected()), nil
}
