package transaction

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps transactions in process memory. It backs DATA_BACKEND=memory
// and the tests of the packages that consume Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	rows   map[int64]Transaction
	nextID int64
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:   make(map[int64]Transaction),
		nextID: 1,
	}
}

func (r *MemoryRepository) Insert(_ context.Context, t *Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = r.nextID
	r.nextID++
	r.rows[t.ID] = *t
	return t.ID, nil
}

func (r *MemoryRepository) Restore(_ context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID <= 0 {
		t.ID = r.nextID
	}
	if _, ok := r.rows[t.ID]; ok {
		return common.ErrConflict
	}
	r.rows[t.ID] = *t
	if t.ID >= r.nextID {
		r.nextID = t.ID + 1
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) Query(_ context.Context, f Filter) ([]Transaction, error) {
	return r.collect(f.Matches), nil
}

func (r *MemoryRepository) Search(_ context.Context, term string) ([]Transaction, error) {
	needle := strings.ToLower(term)
	return r.collect(func(t Transaction) bool {
		return strings.Contains(strings.ToLower(t.Description), needle)
	}), nil
}

func (r *MemoryRepository) Latest(_ context.Context) (*Transaction, error) {
	all := r.collect(func(Transaction) bool { return true })
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

func (r *MemoryRepository) CategoryTotals(_ context.Context, month, year int) (map[string]decimal.Decimal, error) {
	f := Filter{Month: month, Year: year}
	totals := make(map[string]decimal.Decimal)
	for _, t := range r.collect(f.Matches) {
		if !t.IsExpense() {
			continue
		}
		totals[t.Category] = totals[t.Category].Add(t.Amount)
	}
	return totals, nil
}

func (r *MemoryRepository) Exists(_ context.Context, date time.Time, amount decimal.Decimal) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	day := DateOnly(date)
	for _, t := range r.rows {
		if t.Date.Equal(day) && t.Amount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Update(_ context.Context, id int64, u Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if len(t.Apply(u)) > 0 {
		r.rows[id] = t
	}
	return true, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *MemoryRepository) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows = make(map[int64]Transaction)
	r.nextID = 1
	return nil
}

// collect returns the matching rows newest first.
func (r *MemoryRepository) collect(keep func(Transaction) bool) []Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Transaction, 0, len(r.rows))
	for _, t := range r.rows {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
