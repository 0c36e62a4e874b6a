package transaction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is the normalized wire form of a transaction. It is what the statement
// adapter produces, what the export document carries and what the HTTP API speaks.
// Type, Month and Year are informational on input: FromRecord always recomputes them.
type Record struct {
	ID           *int64   `json:"id,omitempty"`
	Date         string   `json:"fecha"`
	Description  string   `json:"concepto"`
	Amount       *float64 `json:"importe"`
	Category     string   `json:"categoria,omitempty"`
	Type         string   `json:"tipo,omitempty"`
	Month        int      `json:"mes,omitempty"`
	Year         int      `json:"año,omitempty"`
	Notes        string   `json:"notas,omitempty"`
	BalanceAfter *float64 `json:"saldo_posterior,omitempty"`
}

// ToRecord converts a stored transaction to its wire form.
func ToRecord(t Transaction) Record {
	id := t.ID
	amount := t.Amount.InexactFloat64()
	r := Record{
		ID:          &id,
		Date:        t.Date.Format(DateLayout),
		Description: t.Description,
		Amount:      &amount,
		Category:    t.Category,
		Type:        string(t.Type),
		Month:       t.Month,
		Year:        t.Year,
		Notes:       t.Notes,
	}
	if t.BalanceAfter.Valid {
		balance := t.BalanceAfter.Decimal.InexactFloat64()
		r.BalanceAfter = &balance
	}
	return r
}

// ToRecords converts a slice of transactions.
func ToRecords(txs []Transaction) []Record {
	out := make([]Record, 0, len(txs))
	for _, t := range txs {
		out = append(out, ToRecord(t))
	}
	return out
}

// FromRecord validates a wire record and builds a transaction from it. The
// fecha, concepto and importe fields are required.
func FromRecord(r Record) (*Transaction, error) {
	if strings.TrimSpace(r.Date) == "" {
		return nil, fmt.Errorf("%w: missing fecha", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Description) == "" {
		return nil, fmt.Errorf("%w: missing concepto", ErrInvalidRecord)
	}
	if r.Amount == nil {
		return nil, fmt.Errorf("%w: missing importe", ErrInvalidRecord)
	}

	date, err := ParseDate(r.Date)
	if err != nil {
		return nil, err
	}

	t := New(date, r.Description, decimal.NewFromFloat(*r.Amount), r.Category)
	if r.ID != nil {
		t.ID = *r.ID
	}
	t.Notes = r.Notes
	if r.BalanceAfter != nil {
		t.BalanceAfter = decimal.NewNullDecimal(decimal.NewFromFloat(*r.BalanceAfter))
	}
	return t, nil
}
