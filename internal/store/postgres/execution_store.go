package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

const executionColumns = `id, ts, kind, protocol, account, debt, collateral, success, profit, gas_used, tx_hash, error, dry_run`

// ExecutionStore implements domain.ExecutionStore.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore on pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts rec. Inserting an id twice is a no-op so retries after a
// lost acknowledgement are safe.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	var gasUsed *int64
	if rec.GasUsed != nil {
		g := int64(*rec.GasUsed)
		gasUsed = &g
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_records (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Timestamp, string(rec.Kind), rec.Protocol, rec.Account,
		rec.Debt, rec.Collateral, rec.Success, rec.Profit,
		gasUsed, rec.TxHash, rec.Error, rec.DryRun,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns one record or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM execution_records WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM execution_records
		ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns every record older than before, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM execution_records
		WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes every record older than before.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_records WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SumProfit sums the profit of successful live executions since the cutoff.
func (s *ExecutionStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit), 0) FROM execution_records
		WHERE ts >= $1 AND success AND NOT dry_run`, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	defer rows.Close()
	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate executions: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		rec     domain.ExecutionRecord
		kind    string
		gasUsed *int64
	)
	err := row.Scan(&rec.ID, &rec.Timestamp, &kind, &rec.Protocol, &rec.Account,
		&rec.Debt, &rec.Collateral, &rec.Success, &rec.Profit,
		&gasUsed, &rec.TxHash, &rec.Error, &rec.DryRun)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Kind = domain.ExecutionKind(kind)
	rec.Timestamp = rec.Timestamp.UTC()
	if gasUsed != nil {
		g := uint64(*gasUsed)
		rec.GasUsed = &g
	}
	return rec, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
