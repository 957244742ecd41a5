package gridstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// pragmas are set through the DSN so every pooled connection gets them.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

func dsn(path string) string {
	q := make([]string, len(pragmas))
	for i, p := range pragmas {
		q[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(q, "&")
}

// SQLiteStore keeps grids as blobs in SQLite and records pipeline runs.
type SQLiteStore struct {
	db    *sql.DB
	codec Codec
	now   func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// it to the latest schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &SQLiteStore{db: db, codec: NewCodec(), now: time.Now}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*grid.Grid, error) {
	bands, err := s.LoadBands(ctx, id)
	if err != nil {
		return nil, err
	}
	return single(bands, id)
}

// LoadBands implements Store.
func (s *SQLiteStore) LoadBands(ctx context.Context, id string) ([]*grid.Grid, error) {
	key, err := cleanID(id)
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = s.db.QueryRowContext(ctx, `SELECT blob FROM grids WHERE grid_id = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query grid %s: %w", id, err)
	}
	bands, err := s.codec.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return bands, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, g *grid.Grid, id string) error {
	return s.SaveBands(ctx, []*grid.Grid{g}, id)
}

// SaveBands implements Store. An existing grid with the same id is replaced.
func (s *SQLiteStore) SaveBands(ctx context.Context, bands []*grid.Grid, id string) error {
	key, err := cleanID(id)
	if err != nil {
		return err
	}
	blob, err := s.codec.Encode(bands)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	geom := bands[0].Geometry()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grids (grid_id, cols, rows, band_count, blob, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(grid_id) DO UPDATE SET
			cols = excluded.cols,
			rows = excluded.rows,
			band_count = excluded.band_count,
			blob = excluded.blob,
			updated_at = excluded.updated_at`,
		key, geom.Cols, geom.Rows, len(bands), blob, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save grid %s: %w", id, err)
	}
	return nil
}

// Run is one pipeline execution recorded in the runs table.
type Run struct {
	RunID       string
	Year        int
	Sources     []string
	Outputs     map[string]string
	OverallMean float64 // NaN when undefined
	Skipped     int
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Run statuses.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RecordRun inserts r, assigning a RunID when empty, and returns the id.
func (s *SQLiteStore) RecordRun(ctx context.Context, r *Run) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	sources, err := json.Marshal(r.Sources)
	if err != nil {
		return "", err
	}
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return "", err
	}
	var mean sql.NullFloat64
	if !math.IsNaN(r.OverallMean) {
		mean = sql.NullFloat64{Float64: r.OverallMean, Valid: true}
	}
	var finished sql.NullInt64
	if !r.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: r.FinishedAt.UnixNano(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, year, sources, outputs, overall_mean, skipped, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Year, string(sources), string(outputs), mean, r.Skipped, r.Status,
		r.StartedAt.UnixNano(), finished)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return r.RunID, nil
}

// GetRun loads a recorded run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, year, sources, outputs, overall_mean, skipped, status, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return r, err
}

// ListRuns returns the runs for year, newest first. year 0 lists all.
func (s *SQLiteStore) ListRuns(ctx context.Context, year int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, year, sources, outputs, overall_mean, skipped, status, started_at, finished_at
		FROM runs WHERE (? = 0 OR year = ?) ORDER BY started_at DESC`, year, year)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                Run
		sources, outputs string
		mean             sql.NullFloat64
		started          int64
		finished         sql.NullInt64
	)
	if err := sc.Scan(&r.RunID, &r.Year, &sources, &outputs, &mean, &r.Skipped, &r.Status, &started, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return nil, fmt.Errorf("decode run sources: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
		return nil, fmt.Errorf("decode run outputs: %w", err)
	}
	r.OverallMean = grid.NoData
	if mean.Valid {
		r.OverallMean = mean.Float64
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return &r, nil
}
