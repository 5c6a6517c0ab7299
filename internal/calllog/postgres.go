package calllog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTurnLimit = 50

// PostgresStore persists call transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_turns (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL,
			turn INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_turns_call_created ON call_turns (call_sid, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, record TurnRecord) error {
	fill(&record)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_turns (id, call_sid, turn, role, content, intent, confidence, source, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.CallSID,
		record.Turn,
		string(record.Role),
		record.Content,
		record.Intent,
		record.Confidence,
		record.Source,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append call turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) CallTurns(ctx context.Context, callSID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = defaultTurnLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, turn, role, content, intent, confidence, source, pii_redacted, created_at
		 FROM call_turns WHERE call_sid=$1 ORDER BY created_at DESC, turn DESC LIMIT $2`,
		callSID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var (
			r    TurnRecord
			role string
		)
		if err := rows.Scan(&r.ID, &r.CallSID, &r.Turn, &role, &r.Content, &r.Intent, &r.Confidence, &r.Source, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call turn row: %w", err)
		}
		r.Role = Role(role)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call turn rows: %w", err)
	}

	// Newest-first from the query; callers read transcripts oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
