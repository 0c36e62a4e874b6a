package transaction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines data access for transactions.
//
// Query, Search and Latest order results newest first (date, then id, descending).
// Update and Delete report false when no row has the given id.
type Repository interface {
	// Insert stores t, assigns its id and returns it.
	Insert(ctx context.Context, t *Transaction) (int64, error)
	// Restore stores t keeping the id it already carries. Used by sync merges.
	Restore(ctx context.Context, t *Transaction) error

	// Get returns common.ErrNotFound when the id does not exist.
	Get(ctx context.Context, id int64) (*Transaction, error)
	Query(ctx context.Context, f Filter) ([]Transaction, error)
	// Search matches description case-insensitively as a substring.
	Search(ctx context.Context, term string) ([]Transaction, error)
	// Latest returns nil when the store is empty.
	Latest(ctx context.Context) (*Transaction, error)

	// CategoryTotals sums GASTO amounts per category. Zero month or year means any.
	CategoryTotals(ctx context.Context, month, year int) (map[string]decimal.Decimal, error)
	// Exists reports whether a transaction with the same date and amount is stored.
	Exists(ctx context.Context, date time.Time, amount decimal.Decimal) (bool, error)

	Update(ctx context.Context, id int64, u Update) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// Reset removes every transaction and restarts id assignment.
	Reset(ctx context.Context) error
}
