package rules

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
	"github.com/FACorreiaa/finanzas/pkg/observability"
)

// Classifier assigns categories using the rules currently loaded in a Store.
type Classifier struct {
	store *Store
}

func NewClassifier(store *Store) *Classifier {
	return &Classifier{store: store}
}

// Classify returns the category of the first rule, in stored order, whose pattern and
// amount conditions both hold. Order is the only priority: there is no specificity ranking.
func (c *Classifier) Classify(description string, amount decimal.Decimal) string {
	category := c.match(description, amount)
	observability.Classifications.WithLabelValues(metricLabel(category)).Inc()
	return category
}

// customCategoryLabel groups user-defined categories so the counter keeps a fixed label set.
const customCategoryLabel = "custom"

func metricLabel(category string) string {
	if slices.Contains(transaction.BuiltinCategories, category) {
		return category
	}
	return customCategoryLabel
}

func (c *Classifier) match(description string, amount decimal.Decimal) string {
	loaded := c.store.snapshot()
	if len(loaded) == 0 {
		return transaction.CategoryUnclassified
	}

	abs := amount.Abs()
	for _, r := range loaded {
		if r.fires(description, abs) {
			return r.Category
		}
	}
	return transaction.CategoryUnclassified
}
