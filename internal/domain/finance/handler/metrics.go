package handler

import (
	"fmt"
	"net/http"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/metrics"
)

const (
	defaultTopExpenses = 10
	defaultHorizon     = 3
)

type liquidityResponse struct {
	Liquidity float64 `json:"liquidez"`
}

type evolutionResponse struct {
	Months []metrics.MonthBucket `json:"evolucion"`
}

// periodMetric adapts an engine call that takes month and year.
func periodMetric[T any](h *FinanceHandler, w http.ResponseWriter, r *http.Request, compute func(month, year int) (T, error)) {
	ctx := r.Context()
	month, year, err := h.period(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	out, err := compute(month, year)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, out)
}

func (h *FinanceHandler) MonthlyTotals(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.MonthlyTotals, error) {
		return h.metrics.MonthlyTotals(r.Context(), month, year)
	})
}

func (h *FinanceHandler) SavingsRate(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.SavingsRate, error) {
		return h.metrics.SavingsRate(r.Context(), month, year)
	})
}

func (h *FinanceHandler) DailySpend(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.DailySpend, error) {
		return h.metrics.AverageDailySpend(r.Context(), month, year)
	})
}

func (h *FinanceHandler) Variation(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.Variation, error) {
		return h.metrics.MonthOverMonthVariation(r.Context(), month, year)
	})
}

func (h *FinanceHandler) Efficiency(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.Efficiency, error) {
		return h.metrics.EfficiencyRatios(r.Context(), month, year)
	})
}

func (h *FinanceHandler) HealthScore(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (metrics.HealthScore, error) {
		return h.metrics.FinancialHealthScore(r.Context(), month, year)
	})
}

// TopExpenses accepts ?limit=N, 10 by default. Zero or less returns every expense.
func (h *FinanceHandler) TopExpenses(w http.ResponseWriter, r *http.Request) {
	periodMetric(h, w, r, func(month, year int) (transactionList, error) {
		limit, err := queryInt(r, "limit", defaultTopExpenses)
		if err != nil {
			return transactionList{}, err
		}
		txs, err := h.metrics.TopExpenses(r.Context(), month, year, limit)
		if err != nil {
			return transactionList{}, err
		}
		return listOf(txs), nil
	})
}

// AnnualTotals answers 404 when the year holds no transactions.
func (h *FinanceHandler) AnnualTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := queryInt(r, "year", h.now().Year())
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	out, err := h.metrics.AnnualTotals(ctx, year)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if out == nil {
		h.writeError(ctx, w, fmt.Errorf("%w: no transactions in %d", common.ErrNotFound, year))
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, out)
}

func (h *FinanceHandler) Evolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	months, err := h.metrics.TrailingEvolution(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if months == nil {
		months = []metrics.MonthBucket{}
	}
	h.writeJSON(ctx, w, http.StatusOK, evolutionResponse{Months: months})
}

func (h *FinanceHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.metrics.AvailableLiquidity(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, liquidityResponse{Liquidity: v})
}

// Projection accepts ?months=N, 3 by default.
func (h *FinanceHandler) Projection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	horizon, err := queryInt(r, "months", defaultHorizon)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if horizon < 1 {
		h.writeError(ctx, w, fmt.Errorf("%w: months must be positive", common.ErrBadRequest))
		return
	}

	out, err := h.metrics.BalanceProjection(ctx, horizon)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, out)
}
