package metrics

// MonthlyTotals are the income, expense and net sums of one period.
type MonthlyTotals struct {
	Month              int                `json:"mes,omitempty"`
	Year               int                `json:"año"`
	Income             float64            `json:"total_ingresos"`
	Expense            float64            `json:"total_gastos"`
	Net                float64            `json:"balance_neto"`
	ExpensesByCategory map[string]float64 `json:"gastos_por_categoria"`
}

// MonthBucket is one month of a time series.
type MonthBucket struct {
	Year    int     `json:"año,omitempty"`
	Month   int     `json:"mes"`
	Period  string  `json:"periodo,omitempty"`
	Income  float64 `json:"ingresos"`
	Expense float64 `json:"gastos"`
	Net     float64 `json:"balance"`
}

// AnnualTotals extends MonthlyTotals with a zero-filled January..December series.
type AnnualTotals struct {
	MonthlyTotals
	Months []MonthBucket `json:"evolucion_mensual"`
}

type SavingsRate struct {
	Income  float64 `json:"ingresos"`
	Expense float64 `json:"gastos"`
	Savings float64 `json:"ahorro_absoluto"`
	Rate    float64 `json:"tasa_ahorro"`
}

type DailySpend struct {
	TotalExpense    float64 `json:"gasto_total"`
	ExpenseDays     int     `json:"dias_con_gasto"`
	DailyAverage    float64 `json:"gasto_medio_diario"`
	MonthProjection float64 `json:"proyeccion_mensual"`
}

type Variation struct {
	Month         int                `json:"mes"`
	Year          int                `json:"año"`
	PreviousMonth int                `json:"mes_anterior"`
	PreviousYear  int                `json:"año_anterior"`
	Current       float64            `json:"gasto_actual"`
	Previous      float64            `json:"gasto_anterior"`
	Total         float64            `json:"variacion_total"`
	ByCategory    map[string]float64 `json:"variacion_por_categoria"`
}

type Projection struct {
	Horizon        int     `json:"meses_horizonte"`
	MonthsAnalyzed int     `json:"meses_analizados"`
	Liquidity      float64 `json:"liquidez_actual"`
	MeanNet        float64 `json:"balance_medio_mensual"`
	StdDev         float64 `json:"desviacion_estandar"`
	Projected      float64 `json:"saldo_proyectado"`
	Confidence     string  `json:"confianza"`
}

type Efficiency struct {
	Income     float64            `json:"ingresos"`
	Ratios     map[string]float64 `json:"ratios"`
	Level      string             `json:"nivel"`
	Evaluation string             `json:"evaluacion"`
}

// SubScore is one bucketed component of the health score.
type SubScore struct {
	Points int     `json:"puntos"`
	Max    int     `json:"maximo"`
	Metric float64 `json:"valor"`
}

type HealthComponents struct {
	Savings    SubScore `json:"ahorro"`
	FixedRatio SubScore `json:"gastos_fijos"`
	Stability  SubScore `json:"estabilidad"`
	Trend      SubScore `json:"tendencia"`
}

type HealthScore struct {
	Score      int              `json:"puntuacion"`
	Label      string           `json:"evaluacion"`
	Components HealthComponents `json:"componentes"`
}
