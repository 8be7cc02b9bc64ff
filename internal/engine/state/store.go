// Package state persists router metrics between runs so a new process starts
// with the scores the last one learned.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// DBName is the metrics database file inside the state directory
const DBName = "metrics.db"

const schema = `
CREATE TABLE IF NOT EXISTS source_metrics (
	name        TEXT PRIMARY KEY,
	total       INTEGER NOT NULL,
	successful  INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	avg_resp_ns INTEGER NOT NULL,
	avg_speed   REAL NOT NULL,
	last_ok     INTEGER NOT NULL,
	last_fail   INTEGER NOT NULL,
	reliability REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS url_metrics (
	url         TEXT PRIMARY KEY,
	total       INTEGER NOT NULL,
	successful  INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	avg_resp_ns INTEGER NOT NULL,
	avg_speed   REAL NOT NULL,
	last_ok     INTEGER NOT NULL,
	last_fail   INTEGER NOT NULL,
	reliability REAL NOT NULL,
	consecutive INTEGER NOT NULL
);`

// Store is a sqlite-backed metrics snapshot store
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the metrics database at path
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	// One writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveSnapshot upserts every entry of snap in one transaction
func (s *Store) SaveSnapshot(ctx context.Context, snap types.MetricsSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range snap.Sources {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO source_metrics (name,total,successful,failed,avg_resp_ns,avg_speed,last_ok,last_fail,reliability)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET total=excluded.total, successful=excluded.successful, failed=excluded.failed,
	avg_resp_ns=excluded.avg_resp_ns, avg_speed=excluded.avg_speed, last_ok=excluded.last_ok,
	last_fail=excluded.last_fail, reliability=excluded.reliability`,
			m.Name, m.TotalRequests, m.SuccessfulRequests, m.FailedRequests, int64(m.AvgResponseTime),
			m.AvgSpeed, unixNano(m.LastSuccess), unixNano(m.LastFailure), m.Reliability); err != nil {
			return fmt.Errorf("save source %s: %w", m.Name, err)
		}
	}

	for _, m := range snap.URLs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO url_metrics (url,total,successful,failed,avg_resp_ns,avg_speed,last_ok,last_fail,reliability,consecutive)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(url) DO UPDATE SET total=excluded.total, successful=excluded.successful, failed=excluded.failed,
	avg_resp_ns=excluded.avg_resp_ns, avg_speed=excluded.avg_speed, last_ok=excluded.last_ok,
	last_fail=excluded.last_fail, reliability=excluded.reliability, consecutive=excluded.consecutive`,
			m.Name, m.TotalRequests, m.SuccessfulRequests, m.FailedRequests, int64(m.AvgResponseTime),
			m.AvgSpeed, unixNano(m.LastSuccess), unixNano(m.LastFailure), m.Reliability, m.ConsecutiveFailures); err != nil {
			return fmt.Errorf("save url %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	utils.Debug("state: saved %d sources, %d urls", len(snap.Sources), len(snap.URLs))
	return nil
}

// LoadSnapshot reads everything back, sources and URLs ordered by name
func (s *Store) LoadSnapshot(ctx context.Context) (types.MetricsSnapshot, error) {
	var snap types.MetricsSnapshot

	rows, err := s.db.QueryContext(ctx, `SELECT name,total,successful,failed,avg_resp_ns,avg_speed,last_ok,last_fail,reliability FROM source_metrics ORDER BY name`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var m types.SourceMetrics
		var resp, ok, fail int64
		if err := rows.Scan(&m.Name, &m.TotalRequests, &m.SuccessfulRequests, &m.FailedRequests, &resp, &m.AvgSpeed, &ok, &fail, &m.Reliability); err != nil {
			_ = rows.Close()
			return snap, err
		}
		m.AvgResponseTime = time.Duration(resp)
		m.LastSuccess, m.LastFailure = fromUnixNano(ok), fromUnixNano(fail)
		snap.Sources = append(snap.Sources, m)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT url,total,successful,failed,avg_resp_ns,avg_speed,last_ok,last_fail,reliability,consecutive FROM url_metrics ORDER BY url`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var m types.URLMetrics
		var resp, ok, fail int64
		if err := rows.Scan(&m.Name, &m.TotalRequests, &m.SuccessfulRequests, &m.FailedRequests, &resp, &m.AvgSpeed, &ok, &fail, &m.Reliability, &m.ConsecutiveFailures); err != nil {
			return snap, err
		}
		m.AvgResponseTime = time.Duration(resp)
		m.LastSuccess, m.LastFailure = fromUnixNano(ok), fromUnixNano(fail)
		snap.URLs = append(snap.URLs, m)
	}
	return snap, rows.Err()
}

// Prune drops URL entries not updated since cutoff. Source entries are kept.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM url_metrics WHERE max(last_ok,last_fail) < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
