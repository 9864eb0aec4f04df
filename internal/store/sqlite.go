package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"StockOracle/internal/logger"
	"StockOracle/internal/model"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists price series to a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
	// mu serializes writers only; readers go straight to the pool and are
	// not blocked by a running batch thanks to WAL.
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens (or creates) the SQLite database and runs migrations.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.WithComponent("store").WithField("path", dbPath).Info("sqlite store opened")
	return s, nil
}

// row mirrors one price_points record.
type row struct {
	TS     int64   `db:"ts"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

func (r row) point(symbol string) model.PricePoint {
	return model.PricePoint{
		Symbol: symbol,
		Time:   time.Unix(r.TS, 0).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS price_points (
		symbol     TEXT    NOT NULL,
		ts         INTEGER NOT NULL,
		open       REAL    NOT NULL,
		high       REAL    NOT NULL,
		low        REAL    NOT NULL,
		close      REAL    NOT NULL,
		volume     REAL    NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, ts)
	) WITHOUT ROWID`,
	`CREATE INDEX IF NOT EXISTS idx_price_points_updated ON price_points(updated_at)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, symbol string, points []model.PricePoint) (*model.UpsertResult, error) {
	valid, rejected := prepareBatch(symbol, points)
	res := &model.UpsertResult{Rejected: rejected}
	if len(valid) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, s.fail(ctx, "begin", symbol, err)
	}
	defer tx.Rollback() // no-op once committed

	stamp := s.now().Unix()
	for _, p := range valid {
		var cur row
		err := tx.GetContext(ctx, &cur,
			`SELECT ts, open, high, low, close, volume FROM price_points WHERE symbol = ? AND ts = ?`,
			symbol, p.Time.Unix(),
		)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO price_points (symbol, ts, open, high, low, close, volume, updated_at)
				 VALUES (?,?,?,?,?,?,?,?)`,
				symbol, p.Time.Unix(), p.Open, p.High, p.Low, p.Close, p.Volume, stamp,
			); err != nil {
				return nil, s.fail(ctx, "insert", symbol, err)
			}
			res.Inserted++
		case err != nil:
			return nil, s.fail(ctx, "lookup", symbol, err)
		case cur.point(symbol).SameValues(p):
			// identical bar, nothing to write
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE price_points SET open = ?, high = ?, low = ?, close = ?, volume = ?, updated_at = ?
				 WHERE symbol = ? AND ts = ?`,
				p.Open, p.High, p.Low, p.Close, p.Volume, stamp, symbol, p.Time.Unix(),
			); err != nil {
				return nil, s.fail(ctx, "update", symbol, err)
			}
			res.Updated++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", symbol, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, "commit", symbol, err)
	}
	return res, nil
}

func (s *SQLiteStore) Read(ctx context.Context, symbol string, from, to time.Time) ([]model.PricePoint, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT ts, open, high, low, close, volume FROM price_points
		 WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts`,
		symbol, lo, hi,
	); err != nil {
		return nil, s.fail(ctx, "read", symbol, err)
	}
	return toPoints(symbol, rows), nil
}

func (s *SQLiteStore) Tail(ctx context.Context, symbol string, n int) ([]model.PricePoint, error) {
	if n <= 0 {
		return []model.PricePoint{}, nil
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT ts, open, high, low, close, volume FROM price_points
		 WHERE symbol = ? ORDER BY ts DESC LIMIT ?`,
		symbol, n,
	); err != nil {
		return nil, s.fail(ctx, "tail", symbol, err)
	}
	points := toPoints(symbol, rows)
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (s *SQLiteStore) LatestTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	var ts sql.NullInt64
	if err := s.db.GetContext(ctx, &ts,
		`SELECT MAX(ts) FROM price_points WHERE symbol = ?`, symbol,
	); err != nil {
		return time.Time{}, false, s.fail(ctx, "latest", symbol, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

func (s *SQLiteStore) Symbols(ctx context.Context) ([]string, error) {
	symbols := []string{}
	if err := s.db.SelectContext(ctx, &symbols, `SELECT DISTINCT symbol FROM price_points ORDER BY symbol`); err != nil {
		return nil, s.fail(ctx, "symbols", "", err)
	}
	return symbols, nil
}

func (s *SQLiteStore) Close() error {
	logger.WithComponent("store").Info("closing sqlite store")
	return s.db.Close()
}

func toPoints(symbol string, rows []row) []model.PricePoint {
	points := make([]model.PricePoint, len(rows))
	for i, r := range rows {
		points[i] = r.point(symbol)
	}
	return points
}

// fail wraps err as a StorageError unless the caller's context is what ended
// the operation.
func (s *SQLiteStore) fail(ctx context.Context, op, symbol string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, symbol, ctxErr)
	}
	return &model.StorageError{Op: op, Symbol: symbol, Err: err}
}
