package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS consensus_results (
		proposal_id            TEXT PRIMARY KEY,
		decision               TEXT NOT NULL,
		vote_count             JSONB NOT NULL,
		confidence_score       DOUBLE PRECISION NOT NULL,
		participating_replicas TEXT[] NOT NULL,
		decided_at             TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS consensus_results_decided_at_idx ON consensus_results (decided_at DESC)`,
}

// PostgresResultStore implements ResultStore using PostgreSQL
type PostgresResultStore struct {
	pool *pgxpool.Pool
}

// NewPostgresResultStore connects a pool and makes sure the results table exists
func NewPostgresResultStore(ctx context.Context, connString string, maxConns int32) (*PostgresResultStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresResultStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresResultStoreWithPool wraps an existing pool
func NewPostgresResultStoreWithPool(pool *pgxpool.Pool) *PostgresResultStore {
	return &PostgresResultStore{pool: pool}
}

func (s *PostgresResultStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate consensus_results: %w", err)
		}
	}
	return nil
}

// Save inserts a result. Saving the same proposal twice keeps the first row.
func (s *PostgresResultStore) Save(ctx context.Context, result *model.ConsensusResult) error {
	query := `
		INSERT INTO consensus_results (
			proposal_id, decision, vote_count, confidence_score,
			participating_replicas, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proposal_id) DO NOTHING
	`

	counts, err := json.Marshal(result.VoteCount)
	if err != nil {
		return fmt.Errorf("failed to encode vote count: %w", err)
	}
	replicas := result.ParticipatingReplicas
	if replicas == nil {
		replicas = []string{}
	}

	_, err = s.pool.Exec(ctx, query,
		result.ProposalID,
		string(result.Decision),
		string(counts),
		result.ConfidenceScore,
		replicas,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to store consensus result: %w", err)
	}
	return nil
}

// List returns matching results newest first
func (s *PostgresResultStore) List(ctx context.Context, filter ResultFilter) ([]*model.ConsensusResult, error) {
	query := `
		SELECT proposal_id, decision, vote_count, confidence_score,
		       participating_replicas, decided_at
		FROM consensus_results
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argPos := 1

	if filter.Decision != "" {
		query += fmt.Sprintf(" AND decision = $%d", argPos)
		args = append(args, string(filter.Decision))
		argPos++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND decided_at >= $%d", argPos)
		args = append(args, filter.Since)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY decided_at DESC LIMIT $%d", argPos)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consensus results: %w", err)
	}
	defer rows.Close()

	results := make([]*model.ConsensusResult, 0)
	for rows.Next() {
		var (
			r        model.ConsensusResult
			decision string
			counts   []byte
		)
		if err := rows.Scan(
			&r.ProposalID,
			&decision,
			&counts,
			&r.ConfidenceScore,
			&r.ParticipatingReplicas,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan consensus result: %w", err)
		}
		r.Decision = model.VoteDecision(decision)
		if err := json.Unmarshal(counts, &r.VoteCount); err != nil {
			return nil, fmt.Errorf("failed to decode vote count: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (s *PostgresResultStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresResultStore) Close() error {
	s.pool.Close()
	return nil
}
