// Package store implements the durable request store (C1): crash-safe
// persistence of pending requests and an append-only transmission log,
// backed by an embedded, pure-Go SQLite engine so the module needs no cgo
// toolchain on a mobile-style host.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS deferred_requests (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  method TEXT NOT NULL,
  headers TEXT,
  body BLOB,
  priority INTEGER NOT NULL,
  enqueued_at REAL NOT NULL,
  max_deferral_time REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deferred_requests_priority ON deferred_requests(priority);
CREATE INDEX IF NOT EXISTS idx_deferred_requests_enqueued_at ON deferred_requests(enqueued_at);

CREATE TABLE IF NOT EXISTS transmission_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp REAL NOT NULL,
  request_count INTEGER NOT NULL,
  total_bytes INTEGER NOT NULL,
  network_type TEXT,
  is_charging INTEGER,
  trigger_reason TEXT
);
`

// Request is the store's persisted representation of a deferred request.
type Request struct {
	ID              string
	URL             string
	Method          string
	Headers         map[string]string
	Body            []byte
	Priority        int
	EnqueuedAt      time.Time
	MaxDeferralTime time.Duration
}

// LogRecord is one append-only transmission-log entry.
type LogRecord struct {
	Timestamp     time.Time
	RequestCount  int
	TotalBytes    int64
	NetworkType   string
	IsCharging    bool
	TriggerReason string
}

// Stats aggregates the transmission log from a point in time forward.
type Stats struct {
	BatchCount    int64
	TotalRequests int64
	TotalBytes    int64
}

// Error wraps any I/O failure the store surfaces, matching the root
// package's StorageError taxonomy without importing it (avoids a cycle).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Store is the sole owner of persistent state. The underlying database/sql
// pool holds a single connection, so every operation, read or write, runs
// one at a time and readers never observe a partial write.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, enables WAL
// journaling and synchronous=NORMAL, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// A single connection avoids SQLITE_BUSY across the serialized
	// mutating operations the spec requires; reads share that same
	// connection, so they queue behind writes and behind each other.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, wrap("pragma", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, wrap("schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts r by id.
func (s *Store) Save(ctx context.Context, r Request) error {
	headersJSON, err := json.Marshal(r.Headers)
	if err != nil {
		return wrap("save", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deferred_requests (id, url, method, headers, body, priority, enqueued_at, max_deferral_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url=excluded.url, method=excluded.method, headers=excluded.headers,
			body=excluded.body, priority=excluded.priority,
			enqueued_at=excluded.enqueued_at, max_deferral_time=excluded.max_deferral_time
	`, r.ID, r.URL, r.Method, string(headersJSON), r.Body, r.Priority,
		float64(r.EnqueuedAt.UnixNano())/1e9, r.MaxDeferralTime.Seconds())
	return wrap("save", err)
}

// FetchBatch returns up to limit rows ordered by (priority ASC, enqueued_at
// ASC), ties broken by oldest first.
func (s *Store) FetchBatch(ctx context.Context, limit int) ([]Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, url, method, headers, body, priority, enqueued_at, max_deferral_time
		FROM deferred_requests
		ORDER BY priority ASC, enqueued_at ASC
		LIMIT ?
	`, limit)
}

// PendingRequests returns every pending row, in no particular order. Save
// does not cap the row count; reaching max_queue_size forces a drain, which
// normally keeps the queue small enough to hold in memory rather than push
// derived aggregates into SQL against the JSON-serialized headers blob.
// Rows whose transmission keeps failing stay queued until they expire.
func (s *Store) PendingRequests(ctx context.Context) ([]Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, url, method, headers, body, priority, enqueued_at, max_deferral_time
		FROM deferred_requests
	`)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query_requests", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var (
			r           Request
			headersJSON string
			enqueuedAt  float64
			maxDeferral float64
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Method, &headersJSON, &r.Body, &r.Priority, &enqueuedAt, &maxDeferral); err != nil {
			return nil, wrap("query_requests", err)
		}
		if headersJSON != "" {
			if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
				return nil, wrap("query_requests", err)
			}
		}
		r.EnqueuedAt = time.Unix(0, int64(enqueuedAt*1e9))
		r.MaxDeferralTime = time.Duration(maxDeferral * float64(time.Second))
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query_requests", err)
	}
	return out, nil
}

// Delete removes the given ids in one atomic operation; missing ids are
// ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM deferred_requests WHERE id IN (%s)`, placeholders), args...)
	return wrap("delete", err)
}

// DeleteExpired removes rows where enqueued_at + max_deferral_time < now,
// returning the number removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deferred_requests WHERE enqueued_at + max_deferral_time < ?
	`, float64(now.UnixNano())/1e9)
	if err != nil {
		return 0, wrap("delete_expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete_expired", err)
	}
	return int(n), nil
}

// Count returns the number of pending rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_requests`).Scan(&n)
	return n, wrap("count", err)
}

// RequestPayloadSize is URL length plus the sum of header name/value lengths
// plus body length. This mirrors the root package's DeferredRequest.PayloadSize
// exactly (store can't import the root package without a cycle, the same
// reason Error above duplicates the root's error taxonomy instead of
// wrapping it); keep the two in lockstep if either changes.
func RequestPayloadSize(r Request) int {
	n := len(r.URL) + len(r.Body)
	for k, v := range r.Headers {
		n += len(k) + len(v)
	}
	return n
}

// TotalPayloadSize sums RequestPayloadSize across every pending row. Summing
// LENGTH(headers) in SQL would count the JSON-serialized blob's braces,
// quotes, and separators rather than the header name/value bytes themselves,
// so this decodes headers the same way FetchBatch does and sums in Go.
func (s *Store) TotalPayloadSize(ctx context.Context) (int64, error) {
	reqs, err := s.PendingRequests(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range reqs {
		total += int64(RequestPayloadSize(r))
	}
	return total, nil
}

// Clear removes all pending rows (not the log).
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deferred_requests`)
	return wrap("clear", err)
}

// LogTransmission appends one record to the transmission log.
func (s *Store) LogTransmission(ctx context.Context, rec LogRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transmission_log (timestamp, request_count, total_bytes, network_type, is_charging, trigger_reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, float64(rec.Timestamp.UnixNano())/1e9, rec.RequestCount, rec.TotalBytes, rec.NetworkType, boolToInt(rec.IsCharging), rec.TriggerReason)
	return wrap("log_transmission", err)
}

// TransmissionStats aggregates the log from since forward.
func (s *Store) TransmissionStats(ctx context.Context, since time.Time) (Stats, error) {
	var stats Stats
	var totalRequests, totalBytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(request_count), SUM(total_bytes)
		FROM transmission_log WHERE timestamp >= ?
	`, float64(since.UnixNano())/1e9).Scan(&stats.BatchCount, &totalRequests, &totalBytes)
	if err != nil {
		return Stats{}, wrap("transmission_stats", err)
	}
	stats.TotalRequests = totalRequests.Int64
	stats.TotalBytes = totalBytes.Int64
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
