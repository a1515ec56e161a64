package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// SQLiteStore persists the trail in an embedded SQLite database. Suitable
// for single-node deployments and the CLI.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing handle and migrates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		action_kind TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		immutable_proof TEXT NOT NULL,
		body JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS governance_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		action_id TEXT,
		details JSON NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, entry contracts.AuditEntry) error {
	body, err := marshalEntry(entry)
	if err != nil {
		return fmt.Errorf("serialize entry %s: %w", entry.ID, err)
	}
	query := `INSERT INTO audit_entries (
		id, sequence, timestamp, action_kind, agent_id, success,
		previous_hash, entry_hash, immutable_proof, body
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Sequence, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.Request.Kind), entry.Agent.ID, boolToInt(entry.Result.Success),
		entry.PreviousHash, entry.EntryHash, entry.ImmutableProof, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadEntries(ctx context.Context) ([]contracts.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []contracts.AuditEntry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		entry, err := unmarshalEntry(body)
		if err != nil {
			return nil, fmt.Errorf("decode stored entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) MaxSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit_entries`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev contracts.Event) error {
	details, err := marshalDetails(ev.Details)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", ev.ID, err)
	}
	query := `INSERT INTO governance_events (id, kind, severity, timestamp, action_id, details)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Kind), string(ev.Severity),
		ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.ActionID, string(details),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM governance_events WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
