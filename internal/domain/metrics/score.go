package metrics

import (
	"context"
	"log/slog"
	"math"

	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

// Efficiency tiers.
const (
	LevelOptimal  = "optimal"
	LevelGood     = "good"
	LevelCaution  = "caution"
	LevelCritical = "critical"
	LevelNoIncome = "no_income"
)

// Health score labels.
const (
	HealthExcellent = "excellent"
	HealthGood      = "good"
	HealthFair      = "fair"
	HealthPoor      = "poor"
)

var efficiencyText = map[string]string{
	LevelOptimal:  "Distribución óptima: gastos fijos y de disfrute por debajo del 30% de los ingresos",
	LevelGood:     "Buena distribución: gastos fijos por debajo del 50% y disfrute por debajo del 40%",
	LevelCaution:  "Precaución: los gastos fijos consumen una parte importante de los ingresos",
	LevelCritical: "Crítico: los gastos fijos superan el 70% de los ingresos",
	LevelNoIncome: "No hay ingresos registrados en el periodo",
}

// evaluateEfficiency applies the product threshold table to the FIJOS and DISFRUTE ratios.
func evaluateEfficiency(fixed, leisure float64) string {
	switch {
	case fixed < 30 && leisure < 30:
		return LevelOptimal
	case fixed < 50 && leisure < 40:
		return LevelGood
	case fixed < 70:
		return LevelCaution
	default:
		return LevelCritical
	}
}

func categoryRatios(p periodTotals) map[string]float64 {
	ratios := make(map[string]float64, len(p.byCategory))
	for c, total := range p.byCategory {
		ratios[c] = money(ratio(total.Abs(), p.income))
	}
	return ratios
}

// EfficiencyRatios expresses each expense category as a percentage of income.
func (e *Engine) EfficiencyRatios(ctx context.Context, month, year int) (Efficiency, error) {
	p, err := e.periodTotals(ctx, month, year)
	if err != nil {
		return Efficiency{}, err
	}

	ratios := categoryRatios(p)
	level := LevelNoIncome
	if p.income.IsPositive() {
		level = evaluateEfficiency(ratios[transaction.CategoryFixed], ratios[transaction.CategoryLeisure])
	}
	return Efficiency{
		Income:     money(p.income),
		Ratios:     ratios,
		Level:      level,
		Evaluation: efficiencyText[level],
	}, nil
}

func savingsPoints(rate float64) int {
	switch {
	case rate >= 20:
		return 30
	case rate >= 10:
		return 20
	case rate >= 0:
		return 10
	default:
		return 0
	}
}

func fixedRatioPoints(r float64) int {
	switch {
	case r < 30:
		return 25
	case r < 50:
		return 15
	case r < 70:
		return 5
	default:
		return 0
	}
}

func stabilityPoints(variation float64) int {
	v := math.Abs(variation)
	switch {
	case v < 10:
		return 25
	case v < 25:
		return 15
	case v < 50:
		return 5
	default:
		return 0
	}
}

func trendPoints(variation float64) int {
	switch {
	case variation < -5:
		return 20
	case variation < 5:
		return 10
	default:
		return 0
	}
}

func healthLabel(score int) string {
	switch {
	case score >= 80:
		return HealthExcellent
	case score >= 60:
		return HealthGood
	case score >= 40:
		return HealthFair
	default:
		return HealthPoor
	}
}

// scoreHealth buckets the three inputs. The total is always the sum of the four parts.
func scoreHealth(savingsRate, fixedRatio, variation float64) HealthScore {
	c := HealthComponents{
		Savings:    SubScore{Points: savingsPoints(savingsRate), Max: 30, Metric: savingsRate},
		FixedRatio: SubScore{Points: fixedRatioPoints(fixedRatio), Max: 25, Metric: fixedRatio},
		Stability:  SubScore{Points: stabilityPoints(variation), Max: 25, Metric: math.Abs(variation)},
		Trend:      SubScore{Points: trendPoints(variation), Max: 20, Metric: variation},
	}
	total := c.Savings.Points + c.FixedRatio.Points + c.Stability.Points + c.Trend.Points
	return HealthScore{Score: total, Label: healthLabel(total), Components: c}
}

// FinancialHealthScore combines savings rate, FIJOS ratio and month-over-month
// expense variation into a 0..100 score.
func (e *Engine) FinancialHealthScore(ctx context.Context, month, year int) (HealthScore, error) {
	l := e.logger.With(slog.String("method", "FinancialHealthScore"))

	p, err := e.periodTotals(ctx, month, year)
	if err != nil {
		l.ErrorContext(ctx, "failed to load period", slog.Any("error", err))
		return HealthScore{}, err
	}
	_, _, _, rate := savingsOf(p)
	fixed := ratio(p.byCategory[transaction.CategoryFixed].Abs(), p.income)

	_, variation, err := e.variation(ctx, month, year)
	if err != nil {
		l.ErrorContext(ctx, "failed to compute variation", slog.Any("error", err))
		return HealthScore{}, err
	}

	score := scoreHealth(money(rate), money(fixed), money(variation))
	l.DebugContext(ctx, "health score computed",
		slog.Int("month", month),
		slog.Int("year", year),
		slog.Int("score", score.Score),
	)
	return score, nil
}
