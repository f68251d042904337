// Package buffer implements the durable local store the agent falls
// back to whenever the uplink is unavailable. Records survive process
// restarts; the drain loop replays them oldest-first once the link
// recovers.
package buffer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/langchou/tesgazer-edge/internal/codec"
)

// MaxDecodeFailures is the number of consecutive decode failures an
// entry may incur during drain before it is moved to the quarantine
// table rather than retried forever.
const MaxDecodeFailures = 3

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   INTEGER NOT NULL,
	payload     BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL,
	failures    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quarantine (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	payload      BLOB NOT NULL,
	failures     INTEGER NOT NULL,
	last_error   TEXT NOT NULL,
	quarantined_at INTEGER NOT NULL
);
`

// Entry is one durable record read back from the buffer, paired with
// the row id the drain loop needs to remove or quarantine it.
type Entry struct {
	ID     int64
	Record codec.Record
}

// Store is the sqlite-backed durable buffer. A single Store instance
// is expected per agent; it is safe for concurrent use, but the
// agent's single control loop never exercises that concurrency.
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
}

// Open creates or reuses the sqlite database at path, applying the
// pragmas a write-heavy, single-writer workload needs and creating the
// schema if it does not already exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 2,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: opening %s: %w", path, err)
	}

	s := &Store{pool: pool, logger: logger}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("buffer: acquiring connection: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("buffer: creating schema: %w", err)
	}

	logger.Info("buffer store opened", zap.String("path", path))
	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("buffer: %s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("buffer: closing: %w", err)
	}
	return nil
}

// Enqueue durably appends a record to the buffer. It encodes r with
// codec.Encode and stores that payload; the encoding is deterministic,
// so a drain that decodes and re-encodes the entry uploads the same
// bytes.
func (s *Store) Enqueue(ctx context.Context, r codec.Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: enqueue: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	payload := codec.Encode(r)
	err = sqlitex.Execute(conn,
		`INSERT INTO entries (timestamp, payload, enqueued_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{r.Timestamp, payload, time.Now().Unix()}},
	)
	if err != nil {
		return fmt.Errorf("buffer: enqueue: %w", err)
	}
	return nil
}

// Depth returns the number of entries currently awaiting drain.
func (s *Store) Depth(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("buffer: depth: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.ExecuteTransient(conn, `SELECT COUNT(*) FROM entries`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("buffer: depth: %w", err)
	}
	return count, nil
}

// Oldest returns up to limit entries in ascending timestamp order —
// the order the drain policy replays them in.
func (s *Store) Oldest(ctx context.Context, limit int) ([]Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buffer: oldest: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []Entry
	var decodeErr error
	err = sqlitex.Execute(conn,
		`SELECT id, payload FROM entries ORDER BY timestamp ASC, id ASC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{int64(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnInt64(0)
				buf := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, buf)

				rec, err := codec.Decode(buf)
				if err != nil {
					decodeErr = s.handleDecodeFailure(ctx, id, buf, err)
					return nil
				}
				entries = append(entries, Entry{ID: id, Record: rec})
				return nil
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("buffer: oldest: %w", err)
	}
	if decodeErr != nil {
		return entries, decodeErr
	}
	return entries, nil
}

// Remove permanently deletes an entry after it has been durably
// acknowledged by the ingest endpoint.
func (s *Store) Remove(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: remove: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM entries WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("buffer: remove: %w", err)
	}
	return nil
}

// handleDecodeFailure records a corrupt entry's failure count and, once
// it has failed MaxDecodeFailures times, moves it into the quarantine
// table so the drain loop stops retrying it forever. Every call returns
// an error wrapping codec.ErrMalformedRecord, including the one that
// quarantines the entry.
func (s *Store) handleDecodeFailure(ctx context.Context, id int64, payload []byte, cause error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: handling decode failure: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE entries SET failures = failures + 1 WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("buffer: recording decode failure: %w", err)
	}

	var failures int64
	err = sqlitex.Execute(conn, `SELECT failures FROM entries WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			failures = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("buffer: reading failure count: %w", err)
	}

	if failures >= MaxDecodeFailures {
		endTx, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("buffer: quarantine transaction: %w", err)
		}
		defer endTx(&err)

		err = sqlitex.Execute(conn,
			`INSERT INTO quarantine (payload, failures, last_error, quarantined_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{payload, failures, cause.Error(), time.Now().Unix()}},
		)
		if err != nil {
			return fmt.Errorf("buffer: inserting quarantine record: %w", err)
		}
		err = sqlitex.Execute(conn, `DELETE FROM entries WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return fmt.Errorf("buffer: removing quarantined entry: %w", err)
		}

		s.logger.Warn("entry quarantined after repeated decode failures",
			zap.Int64("id", id), zap.Int64("failures", failures), zap.Error(cause))
		return fmt.Errorf("%w: entry %d quarantined after %d failures", codec.ErrMalformedRecord, id, failures)
	}

	s.logger.Warn("buffer entry failed to decode, will retry",
		zap.Int64("id", id), zap.Int64("failures", failures), zap.Error(cause))
	return fmt.Errorf("%w: entry %d (%d/%d failures)", codec.ErrMalformedRecord, id, failures, MaxDecodeFailures)
}

// QuarantineCount reports how many entries have been permanently set
// aside as unrecoverable.
func (s *Store) QuarantineCount(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("buffer: quarantine count: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.ExecuteTransient(conn, `SELECT COUNT(*) FROM quarantine`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("buffer: quarantine count: %w", err)
	}
	return count, nil
}
