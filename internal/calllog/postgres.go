package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turn records in PostgreSQL.
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
			call_id TEXT NOT NULL,
			turn_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			words_spoken INTEGER NOT NULL DEFAULT 0,
			words_total INTEGER NOT NULL DEFAULT 0,
			chunks INTEGER NOT NULL DEFAULT 0,
			first_audio_ms BIGINT NOT NULL DEFAULT 0,
			failed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_call_turns_call_turn ON call_turns (call_id, turn_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_turns (id, call_id, turn_id, kind, status, words_spoken, words_total, chunks, first_audio_ms, failed, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (call_id, turn_id) DO NOTHING`,
		record.ID,
		record.CallID,
		int64(record.TurnID),
		record.Kind,
		record.Status,
		record.WordsSpoken,
		record.WordsTotal,
		record.Chunks,
		record.FirstAudio.Milliseconds(),
		record.Failed,
		record.CreatedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) CallTurns(ctx context.Context, callID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, turn_id, kind, status, words_spoken, words_total, chunks, first_audio_ms, failed, created_at, ended_at
		 FROM call_turns WHERE call_id=$1 ORDER BY turn_id DESC LIMIT $2`,
		callID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call turns: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var (
			r       TurnRecord
			turnID  int64
			firstMS int64
			endedAt *time.Time
		)
		if err := rows.Scan(&r.ID, &r.CallID, &turnID, &r.Kind, &r.Status, &r.WordsSpoken, &r.WordsTotal, &r.Chunks, &firstMS, &r.Failed, &r.CreatedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan call turn row: %w", err)
		}
		r.TurnID = uint64(turnID)
		r.FirstAudio = time.Duration(firstMS) * time.Millisecond
		if endedAt != nil {
			r.EndedAt = *endedAt
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call turn rows: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
