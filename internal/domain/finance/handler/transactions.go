package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

type transactionList struct {
	Count        int                  `json:"count"`
	Transactions []transaction.Record `json:"transacciones"`
}

func listOf(txs []transaction.Transaction) transactionList {
	return transactionList{Count: len(txs), Transactions: transaction.ToRecords(txs)}
}

// updateRequest carries the editable fields. Absent fields stay untouched.
type updateRequest struct {
	Category    *string  `json:"categoria"`
	Notes       *string  `json:"notas"`
	Date        *string  `json:"fecha"`
	Description *string  `json:"concepto"`
	Amount      *float64 `json:"importe"`
}

func (u updateRequest) toUpdate() (transaction.Update, error) {
	out := transaction.Update{
		Category: u.Category,
		Notes:    u.Notes,
	}
	if u.Description != nil {
		d := strings.TrimSpace(*u.Description)
		if d == "" {
			return out, fmt.Errorf("%w: concepto cannot be empty", common.ErrBadRequest)
		}
		out.Description = &d
	}
	if u.Date != nil {
		d, err := transaction.ParseDate(*u.Date)
		if err != nil {
			return out, err
		}
		out.Date = &d
	}
	if u.Amount != nil {
		a := decimal.NewFromFloat(*u.Amount)
		out.Amount = &a
	}
	return out, nil
}

type classifyRequest struct {
	Description string   `json:"concepto"`
	Amount      *float64 `json:"importe"`
}

type classifyResponse struct {
	Category string `json:"categoria"`
}

// ListTransactions filters by month, year and an inclusive from/to date range.
func (h *FinanceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var f transaction.Filter
	var err error
	if f.Month, err = queryInt(r, "month", 0); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if f.Year, err = queryInt(r, "year", 0); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		if *dst, err = transaction.ParseDate(raw); err != nil {
			h.writeError(ctx, w, err)
			return
		}
	}

	txs, err := h.transactions.Query(ctx, f)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, listOf(txs))
}

func (h *FinanceHandler) SearchTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		h.writeError(ctx, w, fmt.Errorf("%w: q is required", common.ErrBadRequest))
		return
	}

	txs, err := h.transactions.Search(ctx, term)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, listOf(txs))
}

func (h *FinanceHandler) LatestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.transactions.Latest(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if t == nil {
		h.writeError(ctx, w, fmt.Errorf("%w: no transactions stored", common.ErrNotFound))
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, transaction.ToRecord(*t))
}

func (h *FinanceHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	t, err := h.transactions.Get(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, transaction.ToRecord(*t))
}

// CreateTransaction stores one record. Without a categoria the classifier picks one.
func (h *FinanceHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rec transaction.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	rec.ID = nil

	t, err := transaction.FromRecord(rec)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(t.Category) == "" {
		t.Category = h.classifier.Classify(t.Description, t.Amount)
	}

	if _, err := h.transactions.Insert(ctx, t); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, transaction.ToRecord(*t))
}

func (h *FinanceHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if u.IsEmpty() {
		h.writeError(ctx, w, fmt.Errorf("%w: nothing to update", common.ErrBadRequest))
		return
	}

	ok, err := h.transactions.Update(ctx, id, u)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if !ok {
		h.writeError(ctx, w, fmt.Errorf("%w: transaction %d", common.ErrNotFound, id))
		return
	}

	t, err := h.transactions.Get(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, transaction.ToRecord(*t))
}

func (h *FinanceHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	ok, err := h.transactions.Delete(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if !ok {
		h.writeError(ctx, w, fmt.Errorf("%w: transaction %d", common.ErrNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FinanceHandler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	amount := decimal.Zero
	if req.Amount != nil {
		amount = decimal.NewFromFloat(*req.Amount)
	}

	h.writeJSON(ctx, w, http.StatusOK, classifyResponse{
		Category: h.classifier.Classify(req.Description, amount),
	})
}

// Reset wipes every stored transaction. It requires ?confirm=true.
func (h *FinanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("confirm") != "true" {
		h.writeError(ctx, w, fmt.Errorf("%w: reset needs confirm=true", common.ErrBadRequest))
		return
	}

	if err := h.transactions.Reset(ctx); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.logger.WarnContext(ctx, "transaction store reset")
	w.WriteHeader(http.StatusNoContent)
}
