package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/address-cli/internal/model"
)

// sqliteTimeFormat sorts lexically in chronological order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	schema_name  TEXT NOT NULL,
	verified     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        TEXT,
	error        TEXT,
	created_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS address_records (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line      INTEGER NOT NULL,
	unencoded TEXT NOT NULL,
	encoded   TEXT,
	lat       REAL,
	lng       REAL,
	cell      TEXT,
	PRIMARY KEY (run_id, line)
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash  TEXT PRIMARY KEY,
	address       TEXT NOT NULL,
	accepted      INTEGER NOT NULL,
	lat           REAL,
	lng           REAL,
	location_type TEXT,
	cached_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache(cached_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.CompletedAt = nil

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, schema_name, verified, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.SchemaName, run.Verified, string(run.Status), formatTime(run.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.Stats, runErr string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stats = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(statsJSON), nullIfEmpty(runErr), formatTime(time.Now().UTC()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, source, schema_name, verified, status, stats, error, created_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []model.AddressRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM address_records WHERE run_id = ?`, runID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear records for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO address_records (run_id, line, unencoded, encoded, lat, lng, cell) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range records {
		var lat, lng any
		if r.Coordinate != nil {
			lat, lng = r.Coordinate.Lat, r.Coordinate.Lng
		}
		if _, err := stmt.ExecContext(ctx, runID, r.Line, r.Unencoded, nullIfEmpty(r.Encoded), lat, lng, nullIfEmpty(r.Cell)); err != nil {
			return n, eris.Wrapf(err, "sqlite: insert record line %d", r.Line)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit records")
	}
	return n, nil
}

func (s *SQLiteStore) RunRecords(ctx context.Context, runID string) ([]model.AddressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT line, unencoded, encoded, lat, lng, cell FROM address_records WHERE run_id = ? ORDER BY line`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: records for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	records := []model.AddressRecord{}
	for rows.Next() {
		var (
			r             model.AddressRecord
			encoded, cell sql.NullString
			lat, lng      sql.NullFloat64
		)
		if err := rows.Scan(&r.Line, &r.Unencoded, &encoded, &lat, &lng, &cell); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Encoded = encoded.String
		r.Cell = cell.String
		if lat.Valid && lng.Valid {
			r.Coordinate = &model.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: records iterate")
}

func (s *SQLiteStore) LatestRecords(ctx context.Context) ([]model.AddressRecord, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE status = ? AND verified = 1 ORDER BY created_at DESC LIMIT 1`,
		string(model.RunStatusComplete),
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.AddressRecord{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest run")
	}
	return s.RunRecords(ctx, runID)
}

func (s *SQLiteStore) GetCachedGeocode(ctx context.Context, key string, maxAge time.Duration) (*model.GeocodeCacheEntry, error) {
	query := `SELECT address_hash, address, accepted, lat, lng, location_type, cached_at FROM geocode_cache WHERE address_hash = ?`
	args := []any{key}
	if maxAge > 0 {
		query += ` AND cached_at > ?`
		args = append(args, formatTime(time.Now().UTC().Add(-maxAge)))
	}

	var (
		e            model.GeocodeCacheEntry
		lat, lng     sql.NullFloat64
		locationType sql.NullString
		cachedAt     string
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&e.Key, &e.Address, &e.Accepted, &lat, &lng, &locationType, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached geocode")
	}

	e.Coordinate = model.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	e.LocationType = locationType.String
	if e.CachedAt, err = parseTime(cachedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) SetCachedGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	var lat, lng any
	if entry.Accepted {
		lat, lng = entry.Coordinate.Lat, entry.Coordinate.Lng
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address_hash, address, accepted, lat, lng, location_type, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address_hash) DO UPDATE SET
			address = excluded.address,
			accepted = excluded.accepted,
			lat = excluded.lat,
			lng = excluded.lng,
			location_type = excluded.location_type,
			cached_at = excluded.cached_at`,
		entry.Key, entry.Address, entry.Accepted, lat, lng, nullIfEmpty(entry.LocationType), formatTime(entry.CachedAt),
	)
	return eris.Wrap(err, "sqlite: set cached geocode")
}

func (s *SQLiteStore) DeleteExpiredGeocodes(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM geocode_cache WHERE cached_at <= ?`,
		formatTime(time.Now().UTC().Add(-maxAge)),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired geocodes")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r           model.Run
		statsJSON   sql.NullString
		runErr      sql.NullString
		createdAt   string
		completedAt sql.NullString
	)

	err := row.Scan(&r.ID, &r.Source, &r.SchemaName, &r.Verified, &r.Status, &statsJSON, &runErr, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = runErr.String
	if statsJSON.Valid {
		if err := json.Unmarshal([]byte(statsJSON.String), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		r.CompletedAt = &t
	}
	return &r, nil
}
