// Package metrics derives financial figures from the stored transactions. Every
// function is a read: results depend only on repository contents and arguments.
// Money is summed as decimal and rounded to two places at the edge.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

const (
	// projectionDays is the fixed month length used by AverageDailySpend.
	projectionDays = 30

	evolutionWindow  = 365 * 24 * time.Hour
	projectionWindow = 90 * 24 * time.Hour
)

var hundred = decimal.NewFromInt(100)

// Source is the read side of the transaction repository.
type Source interface {
	Query(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, error)
	CategoryTotals(ctx context.Context, month, year int) (map[string]decimal.Decimal, error)
	Latest(ctx context.Context) (*transaction.Transaction, error)
}

type Engine struct {
	source Source
	logger *slog.Logger
}

func NewEngine(source Source, logger *slog.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func moneyMap(m map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = money(v)
	}
	return out
}

// ratio returns part/whole*100, or zero when whole is not positive.
func ratio(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// sums splits amounts by transaction type. Expense stays negative.
func sums(txs []transaction.Transaction) (income, expense decimal.Decimal) {
	for _, t := range txs {
		switch t.Type {
		case transaction.TypeIncome:
			income = income.Add(t.Amount)
		case transaction.TypeExpense:
			expense = expense.Add(t.Amount)
		}
	}
	return income, expense
}

type periodTotals struct {
	income     decimal.Decimal
	expense    decimal.Decimal
	byCategory map[string]decimal.Decimal
}

func (e *Engine) periodTotals(ctx context.Context, month, year int) (periodTotals, error) {
	txs, err := e.source.Query(ctx, transaction.Filter{Month: month, Year: year})
	if err != nil {
		return periodTotals{}, fmt.Errorf("failed to query period %02d/%d: %w", month, year, err)
	}
	byCategory, err := e.source.CategoryTotals(ctx, month, year)
	if err != nil {
		return periodTotals{}, fmt.Errorf("failed to aggregate categories for %02d/%d: %w", month, year, err)
	}
	income, expense := sums(txs)
	return periodTotals{income: income, expense: expense, byCategory: byCategory}, nil
}

// MonthlyTotals sums income and expense of a month. Net is income plus the (negative) expense.
func (e *Engine) MonthlyTotals(ctx context.Context, month, year int) (MonthlyTotals, error) {
	p, err := e.periodTotals(ctx, month, year)
	if err != nil {
		e.logger.ErrorContext(ctx, "monthly totals failed", slog.String("method", "MonthlyTotals"), slog.Any("error", err))
		return MonthlyTotals{}, err
	}
	return MonthlyTotals{
		Month:              month,
		Year:               year,
		Income:             money(p.income),
		Expense:            money(p.expense),
		Net:                money(p.income.Add(p.expense)),
		ExpensesByCategory: moneyMap(p.byCategory),
	}, nil
}

// AnnualTotals returns nil when the year has no transactions at all.
func (e *Engine) AnnualTotals(ctx context.Context, year int) (*AnnualTotals, error) {
	txs, err := e.source.Query(ctx, transaction.Filter{Year: year})
	if err != nil {
		return nil, fmt.Errorf("failed to query year %d: %w", year, err)
	}
	if len(txs) == 0 {
		return nil, nil
	}

	var months [12]flow
	byCategory := make(map[string]decimal.Decimal)
	for _, t := range txs {
		months[t.Month-1].add(t)
		if t.IsExpense() {
			byCategory[t.Category] = byCategory[t.Category].Add(t.Amount)
		}
	}

	income, expense := sums(txs)
	out := &AnnualTotals{
		MonthlyTotals: MonthlyTotals{
			Year:               year,
			Income:             money(income),
			Expense:            money(expense),
			Net:                money(income.Add(expense)),
			ExpensesByCategory: moneyMap(byCategory),
		},
		Months: make([]MonthBucket, 0, 12),
	}
	for i, m := range months {
		out.Months = append(out.Months, MonthBucket{
			Month:   i + 1,
			Income:  money(m.income),
			Expense: money(m.expense),
			Net:     money(m.net()),
		})
	}
	return out, nil
}

// window returns the transactions dated within span of the most recent one.
func (e *Engine) window(ctx context.Context, span time.Duration) ([]transaction.Transaction, *transaction.Transaction, error) {
	latest, err := e.source.Latest(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find latest transaction: %w", err)
	}
	if latest == nil {
		return nil, nil, nil
	}
	txs, err := e.source.Query(ctx, transaction.Filter{From: latest.Date.Add(-span)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query trailing window: %w", err)
	}
	return txs, latest, nil
}

type bucketKey struct{ year, month int }

type flow struct{ income, expense decimal.Decimal }

func (f *flow) add(t transaction.Transaction) {
	switch t.Type {
	case transaction.TypeIncome:
		f.income = f.income.Add(t.Amount)
	case transaction.TypeExpense:
		f.expense = f.expense.Add(t.Amount)
	}
}

func (f flow) net() decimal.Decimal {
	return f.income.Add(f.expense)
}

// buckets groups txs by calendar month, oldest first.
func buckets(txs []transaction.Transaction) ([]bucketKey, map[bucketKey]*flow) {
	groups := make(map[bucketKey]*flow)
	var keys []bucketKey
	for _, t := range txs {
		k := bucketKey{year: t.Year, month: t.Month}
		g, ok := groups[k]
		if !ok {
			g = &flow{}
			groups[k] = g
			keys = append(keys, k)
		}
		g.add(t)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})
	return keys, groups
}

// TrailingEvolution groups the 365 days up to the most recent transaction by month.
// The window is anchored to the data, not to the wall clock.
func (e *Engine) TrailingEvolution(ctx context.Context) ([]MonthBucket, error) {
	txs, _, err := e.window(ctx, evolutionWindow)
	if err != nil {
		return nil, err
	}

	keys, groups := buckets(txs)
	out := make([]MonthBucket, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		out = append(out, MonthBucket{
			Year:    k.year,
			Month:   k.month,
			Period:  time.Date(k.year, time.Month(k.month), 1, 0, 0, 0, 0, time.UTC).Format(transaction.DateLayout),
			Income:  money(g.income),
			Expense: money(g.expense),
			Net:     money(g.net()),
		})
	}
	return out, nil
}

// AvailableLiquidity is the bank-reported balance after the most recent transaction.
func (e *Engine) AvailableLiquidity(ctx context.Context) (float64, error) {
	d, err := e.liquidity(ctx)
	if err != nil {
		return 0, err
	}
	return money(d), nil
}

func (e *Engine) liquidity(ctx context.Context) (decimal.Decimal, error) {
	latest, err := e.source.Latest(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to find latest transaction: %w", err)
	}
	if latest == nil || !latest.BalanceAfter.Valid {
		return decimal.Zero, nil
	}
	return latest.BalanceAfter.Decimal, nil
}

func savingsOf(p periodTotals) (income, expense, savings, rate decimal.Decimal) {
	income = p.income
	expense = p.expense.Abs()
	savings = income.Sub(expense)
	rate = ratio(savings, income)
	return income, expense, savings, rate
}

// SavingsRate is (income - |expense|) / income * 100, or 0 without income.
func (e *Engine) SavingsRate(ctx context.Context, month, year int) (SavingsRate, error) {
	p, err := e.periodTotals(ctx, month, year)
	if err != nil {
		return SavingsRate{}, err
	}
	income, expense, savings, rate := savingsOf(p)
	return SavingsRate{
		Income:  money(income),
		Expense: money(expense),
		Savings: money(savings),
		Rate:    money(rate),
	}, nil
}

// AverageDailySpend divides the month's expense by the number of distinct days with
// an expense and projects it over a fixed 30-day month.
func (e *Engine) AverageDailySpend(ctx context.Context, month, year int) (DailySpend, error) {
	txs, err := e.source.Query(ctx, transaction.Filter{Month: month, Year: year})
	if err != nil {
		return DailySpend{}, fmt.Errorf("failed to query period %02d/%d: %w", month, year, err)
	}

	days := make(map[int]struct{})
	total := decimal.Zero
	for _, t := range txs {
		if !t.IsExpense() {
			continue
		}
		total = total.Add(t.Amount.Abs())
		days[t.Date.Day()] = struct{}{}
	}

	out := DailySpend{TotalExpense: money(total), ExpenseDays: len(days)}
	if len(days) == 0 {
		return out, nil
	}
	avg := total.Div(decimal.NewFromInt(int64(len(days))))
	out.DailyAverage = money(avg)
	out.MonthProjection = money(avg.Mul(decimal.NewFromInt(projectionDays)))
	return out, nil
}

// previousMonth handles the January rollover.
func previousMonth(month, year int) (int, int) {
	if month == 1 {
		return 12, year - 1
	}
	return month - 1, year
}

// MonthOverMonthVariation compares the month's expense against the previous month.
// With no previous expense the total variation is 0 while a category that only has
// current expense reports 100. Both policies are intentional and kept apart.
func (e *Engine) MonthOverMonthVariation(ctx context.Context, month, year int) (Variation, error) {
	v, _, err := e.variation(ctx, month, year)
	return v, err
}

func (e *Engine) variation(ctx context.Context, month, year int) (Variation, decimal.Decimal, error) {
	prevMonth, prevYear := previousMonth(month, year)

	current, err := e.periodTotals(ctx, month, year)
	if err != nil {
		return Variation{}, decimal.Zero, err
	}
	previous, err := e.periodTotals(ctx, prevMonth, prevYear)
	if err != nil {
		return Variation{}, decimal.Zero, err
	}

	cur := current.expense.Abs()
	prev := previous.expense.Abs()
	total := decimal.Zero
	if !prev.IsZero() {
		total = cur.Sub(prev).Div(prev).Mul(hundred)
	}

	byCategory := make(map[string]float64)
	categories := make(map[string]struct{})
	for c := range current.byCategory {
		categories[c] = struct{}{}
	}
	for c := range previous.byCategory {
		categories[c] = struct{}{}
	}
	for c := range categories {
		cc := current.byCategory[c].Abs()
		pc := previous.byCategory[c].Abs()
		switch {
		case pc.IsZero() && cc.IsPositive():
			byCategory[c] = 100
		case pc.IsZero():
			byCategory[c] = 0
		default:
			byCategory[c] = money(cc.Sub(pc).Div(pc).Mul(hundred))
		}
	}

	return Variation{
		Month:         month,
		Year:          year,
		PreviousMonth: prevMonth,
		PreviousYear:  prevYear,
		Current:       money(cur),
		Previous:      money(prev),
		Total:         money(total),
		ByCategory:    byCategory,
	}, total, nil
}

// TopExpenses returns the period's expenses, most negative first. A non-positive limit
// returns all of them.
func (e *Engine) TopExpenses(ctx context.Context, month, year, limit int) ([]transaction.Transaction, error) {
	txs, err := e.source.Query(ctx, transaction.Filter{Month: month, Year: year})
	if err != nil {
		return nil, fmt.Errorf("failed to query period %02d/%d: %w", month, year, err)
	}

	expenses := make([]transaction.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.IsExpense() {
			expenses = append(expenses, t)
		}
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Amount.LessThan(expenses[j].Amount)
	})
	if limit > 0 && len(expenses) > limit {
		expenses = expenses[:limit]
	}
	return expenses, nil
}

// BalanceProjection extends the current liquidity by the mean monthly net of the
// last 90 days of data. Confidence comes from the sample standard deviation of the
// monthly nets relative to their mean.
func (e *Engine) BalanceProjection(ctx context.Context, horizon int) (Projection, error) {
	out := Projection{Horizon: horizon, Confidence: ConfidenceLow}

	txs, _, err := e.window(ctx, projectionWindow)
	if err != nil {
		return out, err
	}
	keys, groups := buckets(txs)
	if len(keys) == 0 {
		return out, nil
	}

	nets := make([]decimal.Decimal, 0, len(keys))
	for _, k := range keys {
		nets = append(nets, groups[k].net())
	}
	mean := decimal.Sum(decimal.Zero, nets...).Div(decimal.NewFromInt(int64(len(nets))))
	std := sampleStdDev(nets, mean)

	liquidity, err := e.liquidity(ctx)
	if err != nil {
		return out, err
	}

	out.MonthsAnalyzed = len(nets)
	out.Liquidity = money(liquidity)
	out.MeanNet = money(mean)
	out.StdDev = math.Round(std*100) / 100
	out.Projected = money(liquidity.Add(mean.Mul(decimal.NewFromInt(int64(horizon)))))
	if len(nets) > 1 {
		out.Confidence = confidence(std, mean.Abs().InexactFloat64())
	}
	return out, nil
}

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

func confidence(std, absMean float64) string {
	switch {
	case std < 0.2*absMean:
		return ConfidenceHigh
	case std < 0.5*absMean:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// sampleStdDev uses the n-1 denominator. It is 0 for fewer than two values.
func sampleStdDev(values []decimal.Decimal, mean decimal.Decimal) float64 {
	if len(values) < 2 {
		return 0
	}
	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return math.Sqrt(variance.InexactFloat64())
}
