package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ PgxPool    = (*pgxpool.Pool)(nil)
	_ Repository = (*PostgresRepository)(nil)
)

const transactionColumns = `id, date, description, amount, category, type, month, year, notes, balance_after`

const (
	insertTransactionQuery = `
		INSERT INTO transactions (date, description, amount, category, type, month, year, notes, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	restoreTransactionQuery = `
		INSERT INTO transactions (id, date, description, amount, category, type, month, year, notes, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	syncSequenceQuery = `SELECT setval(pg_get_serial_sequence('transactions', 'id'), GREATEST((SELECT MAX(id) FROM transactions), 1))`

	selectTransactionsQuery = `SELECT ` + transactionColumns + ` FROM transactions`

	getTransactionQuery = selectTransactionsQuery + ` WHERE id = $1`

	lockTransactionQuery = selectTransactionsQuery + ` WHERE id = $1 FOR UPDATE`

	searchTransactionsQuery = selectTransactionsQuery + ` WHERE description ILIKE $1 ESCAPE '\' ORDER BY date DESC, id DESC`

	latestTransactionQuery = selectTransactionsQuery + ` ORDER BY date DESC, id DESC LIMIT 1`

	existsTransactionQuery = `SELECT EXISTS(SELECT 1 FROM transactions WHERE date = $1 AND amount = $2)`

	updateTransactionQuery = `
		UPDATE transactions SET
			date = $2, description = $3, amount = $4, category = $5,
			type = $6, month = $7, year = $8, notes = $9
		WHERE id = $1`

	deleteTransactionQuery = `DELETE FROM transactions WHERE id = $1`

	resetTransactionsQuery = `TRUNCATE TABLE transactions RESTART IDENTITY`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pgpool PgxPool
}

// NewPostgresRepository creates a new PostgreSQL-backed transaction repository.
func NewPostgresRepository(pgpool PgxPool) *PostgresRepository {
	return &PostgresRepository{pgpool: pgpool}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, semconv.DBSystemPostgreSQL, semconv.DBCollectionName("transactions"))
	return otel.Tracer("TransactionRepo").Start(ctx, name, trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// Insert stores a new transaction and sets its id.
func (r *PostgresRepository) Insert(ctx context.Context, t *Transaction) (int64, error) {
	ctx, span := startSpan(ctx, "Insert")
	defer span.End()

	var id int64
	err := r.pgpool.QueryRow(ctx, insertTransactionQuery,
		t.Date, t.Description, t.Amount, t.Category, string(t.Type),
		t.Month, t.Year, t.Notes, t.BalanceAfter,
	).Scan(&id)
	if err != nil {
		failSpan(span, err, "insert failed")
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	t.ID = id
	span.SetAttributes(attribute.Int64("transaction.id", id))
	return id, nil
}

// Restore inserts a transaction with an explicit id and moves the id sequence past it.
func (r *PostgresRepository) Restore(ctx context.Context, t *Transaction) error {
	ctx, span := startSpan(ctx, "Restore", attribute.Int64("transaction.id", t.ID))
	defer span.End()

	_, err := r.pgpool.Exec(ctx, restoreTransactionQuery,
		t.ID, t.Date, t.Description, t.Amount, t.Category, string(t.Type),
		t.Month, t.Year, t.Notes, t.BalanceAfter,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.ErrConflict
		}
		failSpan(span, err, "restore failed")
		return fmt.Errorf("failed to restore transaction %d: %w", t.ID, err)
	}

	if _, err := r.pgpool.Exec(ctx, syncSequenceQuery); err != nil {
		failSpan(span, err, "sequence sync failed")
		return fmt.Errorf("failed to sync transaction id sequence: %w", err)
	}
	return nil
}

// Get retrieves a transaction by id.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Transaction, error) {
	ctx, span := startSpan(ctx, "Get", attribute.Int64("transaction.id", id))
	defer span.End()

	t, err := scanTransaction(r.pgpool.QueryRow(ctx, getTransactionQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		failSpan(span, err, "get failed")
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

// Query returns the transactions matching f, newest first.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]Transaction, error) {
	ctx, span := startSpan(ctx, "Query",
		attribute.Int("filter.month", f.Month),
		attribute.Int("filter.year", f.Year),
	)
	defer span.End()

	query, args := buildFilterQuery(f)
	txs, err := r.list(ctx, query, args...)
	if err != nil {
		failSpan(span, err, "query failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("result.count", len(txs)))
	return txs, nil
}

// Search returns the transactions whose description contains term.
func (r *PostgresRepository) Search(ctx context.Context, term string) ([]Transaction, error) {
	ctx, span := startSpan(ctx, "Search")
	defer span.End()

	txs, err := r.list(ctx, searchTransactionsQuery, containsPattern(term))
	if err != nil {
		failSpan(span, err, "search failed")
		return nil, err
	}
	return txs, nil
}

// Latest returns the most recent transaction, or nil for an empty table.
func (r *PostgresRepository) Latest(ctx context.Context) (*Transaction, error) {
	ctx, span := startSpan(ctx, "Latest")
	defer span.End()

	t, err := scanTransaction(r.pgpool.QueryRow(ctx, latestTransactionQuery))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		failSpan(span, err, "latest failed")
		return nil, fmt.Errorf("failed to get latest transaction: %w", err)
	}
	return &t, nil
}

// CategoryTotals sums expense amounts per category.
func (r *PostgresRepository) CategoryTotals(ctx context.Context, month, year int) (map[string]decimal.Decimal, error) {
	ctx, span := startSpan(ctx, "CategoryTotals")
	defer span.End()

	query, args := buildCategoryTotalsQuery(month, year)
	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		failSpan(span, err, "category totals failed")
		return nil, fmt.Errorf("failed to query category totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category string
		var total decimal.Decimal
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("failed to scan category total: %w", err)
		}
		totals[category] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category totals: %w", err)
	}
	return totals, nil
}

// Exists reports whether a transaction with the same date and amount is stored.
func (r *PostgresRepository) Exists(ctx context.Context, date time.Time, amount decimal.Decimal) (bool, error) {
	ctx, span := startSpan(ctx, "Exists")
	defer span.End()

	var exists bool
	if err := r.pgpool.QueryRow(ctx, existsTransactionQuery, DateOnly(date), amount).Scan(&exists); err != nil {
		failSpan(span, err, "exists failed")
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

// Update applies u to the transaction with the given id inside a database transaction.
// Derived fields are recomputed by Transaction.Apply before the row is written.
func (r *PostgresRepository) Update(ctx context.Context, id int64, u Update) (bool, error) {
	ctx, span := startSpan(ctx, "Update", attribute.Int64("transaction.id", id))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		failSpan(span, err, "begin failed")
		return false, fmt.Errorf("failed to begin update: %w", err)
	}

	current, err := scanTransaction(tx.QueryRow(ctx, lockTransactionQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		span.SetStatus(codes.Error, "transaction not found")
		return false, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		failSpan(span, err, "lock failed")
		return false, fmt.Errorf("failed to load transaction %d: %w", id, err)
	}

	changed := current.Apply(u)
	for _, field := range changed {
		span.SetAttributes(attribute.Bool("update."+field, true))
	}
	if len(changed) == 0 {
		_ = tx.Rollback(ctx)
		span.SetStatus(codes.Ok, "no changes")
		return true, nil
	}

	_, err = tx.Exec(ctx, updateTransactionQuery,
		current.ID, current.Date, current.Description, current.Amount, current.Category,
		string(current.Type), current.Month, current.Year, current.Notes,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		failSpan(span, err, "update failed")
		return false, fmt.Errorf("failed to update transaction %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		failSpan(span, err, "commit failed")
		return false, fmt.Errorf("failed to commit update: %w", err)
	}

	span.SetStatus(codes.Ok, "transaction updated")
	return true, nil
}

// Delete removes a transaction by id.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, span := startSpan(ctx, "Delete", attribute.Int64("transaction.id", id))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, deleteTransactionQuery, id)
	if err != nil {
		failSpan(span, err, "delete failed")
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reset empties the table and restarts the id sequence.
func (r *PostgresRepository) Reset(ctx context.Context) error {
	ctx, span := startSpan(ctx, "Reset")
	defer span.End()

	if _, err := r.pgpool.Exec(ctx, resetTransactionsQuery); err != nil {
		failSpan(span, err, "reset failed")
		return fmt.Errorf("failed to reset transactions: %w", err)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns term into an ILIKE pattern that matches it literally.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var txType string
	err := row.Scan(
		&t.ID, &t.Date, &t.Description, &t.Amount, &t.Category,
		&txType, &t.Month, &t.Year, &t.Notes, &t.BalanceAfter,
	)
	t.Type = Type(txType)
	return t, err
}

// buildFilterQuery renders the WHERE clause for f with positional arguments.
func buildFilterQuery(f Filter) (string, []any) {
	var where []string
	var args []any

	if f.Month != 0 {
		args = append(args, f.Month)
		where = append(where, fmt.Sprintf("month = $%d", len(args)))
	}
	if f.Year != 0 {
		args = append(args, f.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, DateOnly(f.From))
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, DateOnly(f.To))
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}

	query := selectTransactionsQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY date DESC, id DESC", args
}

func buildCategoryTotalsQuery(month, year int) (string, []any) {
	query := `SELECT category, SUM(amount) AS total FROM transactions WHERE type = 'GASTO'`
	var args []any
	if month != 0 {
		args = append(args, month)
		query += fmt.Sprintf(" AND month = $%d", len(args))
	}
	if year != 0 {
		args = append(args, year)
		query += fmt.Sprintf(" AND year = $%d", len(args))
	}
	return query + " GROUP BY category", args
}
