package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// PostgresStore persists the trail in PostgreSQL for multi-node readers.
// Writes still come from a single kernel instance; the UNIQUE sequence
// constraint rejects a second writer racing the chain.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing handle and migrates the schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence BIGINT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		action_kind TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		immutable_proof TEXT NOT NULL,
		body JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS governance_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		action_id TEXT,
		details JSONB NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) SaveEntry(ctx context.Context, entry contracts.AuditEntry) error {
	body, err := marshalEntry(entry)
	if err != nil {
		return fmt.Errorf("serialize entry %s: %w", entry.ID, err)
	}
	query := `INSERT INTO audit_entries (
		id, sequence, timestamp, action_kind, agent_id, success,
		previous_hash, entry_hash, immutable_proof, body
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Sequence, entry.Timestamp.UTC(),
		string(entry.Request.Kind), entry.Agent.ID, entry.Result.Success,
		entry.PreviousHash, entry.EntryHash, entry.ImmutableProof, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadEntries(ctx context.Context) ([]contracts.AuditEntry, error) {
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

func (s *PostgresStore) MaxSequence(ctx context.Context) (uint64, error) {
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

func (s *PostgresStore) SaveEvent(ctx context.Context, ev contracts.Event) error {
	details, err := marshalDetails(ev.Details)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", ev.ID, err)
	}
	query := `INSERT INTO governance_events (id, kind, severity, timestamp, action_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Kind), string(ev.Severity), ev.Timestamp.UTC(), ev.ActionID, string(details),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PostgresStore) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM governance_events WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
