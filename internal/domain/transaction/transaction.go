// Package transaction holds the transaction record, the rules that keep its derived
// fields consistent and the storage contract consumed by the classifier, the import
// service and the metrics engine.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the direction of a transaction, derived from the sign of its amount.
type Type string

const (
	TypeIncome  Type = "INGRESO"
	TypeExpense Type = "GASTO"
)

// Built-in budget categories. Custom rules may introduce any other category string.
const (
	CategoryFixed         = "FIJOS"
	CategoryLeisure       = "DISFRUTE"
	CategoryExtraordinary = "EXTRAORDINARIOS"
	CategoryIncome        = "INGRESO"
	CategoryUnclassified  = "SIN_CLASIFICAR"
)

// BuiltinCategories lists the closed set of categories the application ships with.
var BuiltinCategories = []string{
	CategoryFixed,
	CategoryLeisure,
	CategoryExtraordinary,
	CategoryIncome,
	CategoryUnclassified,
}

// DateLayout is the calendar-date layout used on the wire and in the export document.
const DateLayout = "2006-01-02"

var ErrInvalidRecord = errors.New("invalid transaction record")

// Transaction is a single bank movement. Type, Month and Year are derived values:
// they are only ever set through New, SetDate, SetAmount and Apply.
type Transaction struct {
	ID           int64
	Date         time.Time
	Description  string
	Amount       decimal.Decimal
	Category     string
	Type         Type
	Month        int
	Year         int
	Notes        string
	BalanceAfter decimal.NullDecimal
}

// TypeFor returns INGRESO for strictly positive amounts and GASTO otherwise.
// A zero amount is recorded as GASTO.
func TypeFor(amount decimal.Decimal) Type {
	if amount.IsPositive() {
		return TypeIncome
	}
	return TypeExpense
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// New builds a transaction with its derived fields populated.
func New(date time.Time, description string, amount decimal.Decimal, category string) *Transaction {
	t := &Transaction{
		Description: description,
		Category:    category,
	}
	t.SetDate(date)
	t.SetAmount(amount)
	return t
}

// SetDate changes the date and recomputes Month and Year.
func (t *Transaction) SetDate(date time.Time) {
	t.Date = DateOnly(date)
	t.Month = int(t.Date.Month())
	t.Year = t.Date.Year()
}

// SetAmount changes the amount and recomputes Type.
func (t *Transaction) SetAmount(amount decimal.Decimal) {
	t.Amount = amount
	t.Type = TypeFor(amount)
}

// IsExpense reports whether the transaction is a GASTO.
func (t Transaction) IsExpense() bool {
	return t.Type == TypeExpense
}

// Update carries the user-editable fields. Nil fields are left untouched.
type Update struct {
	Category    *string
	Notes       *string
	Date        *time.Time
	Description *string
	Amount      *decimal.Decimal
}

// IsEmpty reports whether the update carries no field at all.
func (u Update) IsEmpty() bool {
	return u.Category == nil && u.Notes == nil && u.Date == nil && u.Description == nil && u.Amount == nil
}

// Apply writes the fields of u that differ from the current values and returns the
// names of the fields that changed.
func (t *Transaction) Apply(u Update) []string {
	var changed []string
	if u.Category != nil && *u.Category != t.Category {
		t.Category = *u.Category
		changed = append(changed, "category")
	}
	if u.Notes != nil && *u.Notes != t.Notes {
		t.Notes = *u.Notes
		changed = append(changed, "notes")
	}
	if u.Date != nil && !DateOnly(*u.Date).Equal(t.Date) {
		t.SetDate(*u.Date)
		changed = append(changed, "date")
	}
	if u.Description != nil && *u.Description != t.Description {
		t.Description = *u.Description
		changed = append(changed, "description")
	}
	if u.Amount != nil && !u.Amount.Equal(t.Amount) {
		t.SetAmount(*u.Amount)
		changed = append(changed, "amount")
	}
	return changed
}

// Filter restricts a query. Zero values mean "any".
type Filter struct {
	Month int
	Year  int
	From  time.Time
	To    time.Time
}

// Matches reports whether t satisfies the filter. From and To are inclusive.
func (f Filter) Matches(t Transaction) bool {
	if f.Month != 0 && t.Month != f.Month {
		return false
	}
	if f.Year != 0 && t.Year != f.Year {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(DateOnly(f.To)) {
		return false
	}
	return true
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return DateOnly(t), nil
	}
	if len(raw) > len(DateLayout) {
		if t, err := time.Parse(DateLayout, raw[:len(DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidRecord, raw)
}
