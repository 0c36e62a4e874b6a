package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ PgxPool          = (*pgxpool.Pool)(nil)
	_ ImportRepository = (*PostgresImportRepository)(nil)
)

const (
	getMappingQuery = `
		SELECT fingerprint, bank_name, date_format, number_format,
		       date_col, desc_col, amount_col, debit_col, credit_col,
		       balance_col, category_col, notes_col, created_at, updated_at
		FROM bank_mappings
		WHERE fingerprint = $1`

	upsertMappingQuery = `
		INSERT INTO bank_mappings (
			fingerprint, bank_name, date_format, number_format,
			date_col, desc_col, amount_col, debit_col, credit_col,
			balance_col, category_col, notes_col
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO UPDATE SET
			bank_name = EXCLUDED.bank_name, date_format = EXCLUDED.date_format,
			number_format = EXCLUDED.number_format, date_col = EXCLUDED.date_col,
			desc_col = EXCLUDED.desc_col, amount_col = EXCLUDED.amount_col,
			debit_col = EXCLUDED.debit_col, credit_col = EXCLUDED.credit_col,
			balance_col = EXCLUDED.balance_col, category_col = EXCLUDED.category_col,
			notes_col = EXCLUDED.notes_col, updated_at = NOW()
		RETURNING created_at, updated_at`

	createJobQuery = `
		INSERT INTO import_jobs (id, source, fingerprint, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	finishJobQuery = `
		UPDATE import_jobs SET
			status = $2, rows_total = $3, rows_imported = $4, rows_duplicates = $5,
			rows_failed = $6, error_message = $7, finished_at = $8
		WHERE id = $1`

	listJobsQuery = `
		SELECT id, source, fingerprint, status, rows_total, rows_imported, rows_duplicates,
		       rows_failed, error_message, started_at, finished_at
		FROM import_jobs
		ORDER BY started_at DESC
		LIMIT $1`
)

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool PgxPool
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

// GetMappingByFingerprint looks up a bank mapping by its fingerprint
func (r *PostgresImportRepository) GetMappingByFingerprint(ctx context.Context, fingerprint string) (*BankMapping, error) {
	var m BankMapping
	err := r.pool.QueryRow(ctx, getMappingQuery, fingerprint).Scan(
		&m.Fingerprint, &m.BankName, &m.DateFormat, &m.NumberFormat,
		&m.DateCol, &m.DescCol, &m.AmountCol, &m.DebitCol, &m.CreditCol,
		&m.BalanceCol, &m.CategoryCol, &m.NotesCol, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by fingerprint: %w", err)
	}
	return &m, nil
}

// SaveMapping inserts a bank mapping or replaces the one stored for its fingerprint
func (r *PostgresImportRepository) SaveMapping(ctx context.Context, m *BankMapping) error {
	err := r.pool.QueryRow(ctx, upsertMappingQuery,
		m.Fingerprint, m.BankName, m.DateFormat, m.NumberFormat,
		m.DateCol, m.DescCol, m.AmountCol, m.DebitCol, m.CreditCol,
		m.BalanceCol, m.CategoryCol, m.NotesCol,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bank mapping: %w", err)
	}
	return nil
}

// CreateImportJob creates a new import job
func (r *PostgresImportRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, createJobQuery, job.ID, job.Source, job.Fingerprint, job.Status, job.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// FinishImportJob stores the final status and row counts of a job
func (r *PostgresImportRepository) FinishImportJob(ctx context.Context, job *ImportJob) error {
	if job.FinishedAt == nil {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}

	tag, err := r.pool.Exec(ctx, finishJobQuery,
		job.ID, job.Status, job.RowsTotal, job.RowsImported, job.RowsDuplicates,
		job.RowsFailed, job.ErrorMessage, *job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to finish import job %s: not found", job.ID)
	}
	return nil
}

// ListImportJobs returns the most recent import jobs
func (r *PostgresImportRepository) ListImportJobs(ctx context.Context, limit int) ([]ImportJob, error) {
	rows, err := r.pool.Query(ctx, listJobsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ImportJob
	for rows.Next() {
		var j ImportJob
		if err := rows.Scan(
			&j.ID, &j.Source, &j.Fingerprint, &j.Status, &j.RowsTotal, &j.RowsImported,
			&j.RowsDuplicates, &j.RowsFailed, &j.ErrorMessage, &j.StartedAt, &j.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	return jobs, nil
}
