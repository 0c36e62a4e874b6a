// Package handler exposes the finance domain over JSON HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/import/normalizer"
	importservice "github.com/FACorreiaa/finanzas/internal/domain/import/service"
	"github.com/FACorreiaa/finanzas/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finanzas/internal/domain/metrics"
	"github.com/FACorreiaa/finanzas/internal/domain/rules"
	"github.com/FACorreiaa/finanzas/internal/domain/syncdb"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

const (
	maxBodyBytes   int64 = 1 << 20
	maxUploadBytes int64 = 16 << 20

	uploadField = "file"
)

// FinanceHandler serves the transaction, rule, metric, import and sync endpoints.
type FinanceHandler struct {
	transactions transaction.Repository
	rules        *rules.Store
	classifier   *rules.Classifier
	metrics      *metrics.Engine
	imports      *importservice.ImportService
	sync         *syncdb.Service
	logger       *slog.Logger
	now          func() time.Time
}

// NewFinanceHandler constructs a new handler.
func NewFinanceHandler(
	transactions transaction.Repository,
	ruleStore *rules.Store,
	classifier *rules.Classifier,
	engine *metrics.Engine,
	imports *importservice.ImportService,
	sync *syncdb.Service,
	logger *slog.Logger,
) *FinanceHandler {
	return &FinanceHandler{
		transactions: transactions,
		rules:        ruleStore,
		classifier:   classifier,
		metrics:      engine,
		imports:      imports,
		sync:         sync,
		logger:       logger,
		now:          time.Now,
	}
}

// Wrapper decorates the handler registered for a route pattern.
type Wrapper func(pattern string, next http.Handler) http.Handler

// Register mounts every route on mux. wrap may be nil.
func (h *FinanceHandler) Register(mux *http.ServeMux, wrap Wrapper) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /api/v1/transactions", h.ListTransactions},
		{"POST /api/v1/transactions", h.CreateTransaction},
		{"GET /api/v1/transactions/search", h.SearchTransactions},
		{"GET /api/v1/transactions/latest", h.LatestTransaction},
		{"GET /api/v1/transactions/{id}", h.GetTransaction},
		{"PATCH /api/v1/transactions/{id}", h.UpdateTransaction},
		{"DELETE /api/v1/transactions/{id}", h.DeleteTransaction},
		{"POST /api/v1/classify", h.Classify},

		{"GET /api/v1/rules", h.ListRules},
		{"POST /api/v1/rules", h.AddRule},
		{"POST /api/v1/rules/reload", h.ReloadRules},
		{"PUT /api/v1/rules/{pattern...}", h.UpdateRule},
		{"DELETE /api/v1/rules/{pattern...}", h.DeleteRule},

		{"GET /api/v1/metrics/monthly", h.MonthlyTotals},
		{"GET /api/v1/metrics/annual", h.AnnualTotals},
		{"GET /api/v1/metrics/evolution", h.Evolution},
		{"GET /api/v1/metrics/liquidity", h.Liquidity},
		{"GET /api/v1/metrics/savings", h.SavingsRate},
		{"GET /api/v1/metrics/daily-spend", h.DailySpend},
		{"GET /api/v1/metrics/variation", h.Variation},
		{"GET /api/v1/metrics/top-expenses", h.TopExpenses},
		{"GET /api/v1/metrics/projection", h.Projection},
		{"GET /api/v1/metrics/efficiency", h.Efficiency},
		{"GET /api/v1/metrics/health", h.HealthScore},

		{"POST /api/v1/import/analyze", h.AnalyzeStatement},
		{"POST /api/v1/import/parse", h.ParseStatement},
		{"POST /api/v1/import/csv", h.ImportStatement},
		{"POST /api/v1/import/records", h.ImportRecords},
		{"POST /api/v1/import/preview", h.PreviewRecords},
		{"POST /api/v1/import/mappings", h.SaveMapping},
		{"GET /api/v1/import/jobs", h.ImportJobs},
		{"POST /api/v1/reclassify", h.Reclassify},

		{"GET /api/v1/sync/export", h.Export},
		{"POST /api/v1/sync/import", h.Merge},
		{"POST /api/v1/sync/compare", h.Compare},

		{"POST /api/v1/admin/reset", h.Reset},
	}

	for _, route := range routes {
		var next http.Handler = route.handler
		if wrap != nil {
			next = wrap(route.pattern, next)
		}
		mux.Handle(route.pattern, next)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *FinanceHandler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", slog.Any("error", err))
	}
}

func (h *FinanceHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", slog.Any("error", err))
	}
	h.writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict), errors.Is(err, rules.ErrDuplicatePattern):
		return http.StatusConflict
	case errors.Is(err, common.ErrBadRequest),
		errors.Is(err, transaction.ErrInvalidRecord),
		errors.Is(err, rules.ErrEmptyRule),
		errors.Is(err, rules.ErrMissingCategory),
		errors.Is(err, rules.ErrInvalidPattern),
		errors.Is(err, sniffer.ErrEmptyFile),
		errors.Is(err, sniffer.ErrNoHeadersFound),
		errors.Is(err, normalizer.ErrInvalidAmount),
		errors.Is(err, normalizer.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON body: %v", common.ErrBadRequest, err)
	}
	return nil
}

// readPayload returns the raw request body, or the "file" part of a multipart form.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile(uploadField)
		if err != nil {
			return nil, fmt.Errorf("%w: missing %q upload: %v", common.ErrBadRequest, uploadField, err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", common.ErrBadRequest)
	}
	return data, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrBadRequest, name)
	}
	return v, nil
}

// period reads month and year, defaulting to the current ones.
func (h *FinanceHandler) period(r *http.Request) (int, int, error) {
	now := h.now()
	month, err := queryInt(r, "month", int(now.Month()))
	if err != nil {
		return 0, 0, err
	}
	year, err := queryInt(r, "year", now.Year())
	if err != nil {
		return 0, 0, err
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month must be between 1 and 12", common.ErrBadRequest)
	}
	return month, year, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", common.ErrBadRequest, r.PathValue("id"))
	}
	return id, nil
}
