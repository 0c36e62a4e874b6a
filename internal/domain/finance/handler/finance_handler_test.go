package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finanzas/internal/domain/import/service"
	"github.com/FACorreiaa/finanzas/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finanzas/internal/domain/metrics"
	"github.com/FACorreiaa/finanzas/internal/domain/rules"
	"github.com/FACorreiaa/finanzas/internal/domain/syncdb"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

const testRules = `{"reglas": [
	{"patron": "mercadona", "categoria": "FIJOS", "tipo": "GASTO"},
	{"patron": "nomina", "categoria": "INGRESO", "tipo": "INGRESO"}
]}`

const statement = "Fecha;Concepto;Importe;Saldo\n" +
	"01/07/2024;NOMINA EMPRESA;1.800,00;2.800,00\n" +
	"03/07/2024;MERCADONA VALENCIA;-85,40;2.714,60\n" +
	"05/07/2024;ALQUILER;-650,00;2.064,60\n"

type testServer struct {
	mux  *http.ServeMux
	txs  *transaction.MemoryRepository
	seen []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "categorias.json")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	store := rules.NewStore(context.Background(), path, logger)
	classifier := rules.NewClassifier(store)

	txs := transaction.NewMemoryRepository()
	h := NewFinanceHandler(
		txs,
		store,
		classifier,
		metrics.NewEngine(txs, logger),
		importservice.NewImportService(txs, repository.NewMemoryImportRepository(), classifier, logger),
		syncdb.NewService(txs, logger),
		logger,
	)
	h.now = func() time.Time { return time.Date(2024, 7, 20, 10, 0, 0, 0, time.UTC) }

	s := &testServer{mux: http.NewServeMux(), txs: txs}
	h.Register(s.mux, func(pattern string, next http.Handler) http.Handler {
		s.seen = append(s.seen, pattern)
		return next
	})
	return s
}

func (s *testServer) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body: %s", rec.Code, want, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRegister_WrapsEveryRoute(t *testing.T) {
	s := newTestServer(t)
	if len(s.seen) == 0 {
		t.Fatalf("no routes registered")
	}
	for _, p := range s.seen {
		if !strings.Contains(p, " /api/v1/") {
			t.Fatalf("unexpected pattern %q", p)
		}
	}
}

func TestTransactions_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/transactions",
		`{"fecha": "2024-07-03", "concepto": "MERCADONA SA", "importe": -50}`)
	expectStatus(t, rec, http.StatusCreated)
	created := decodeBody[transaction.Record](t, rec)
	if created.ID == nil || *created.ID != 1 {
		t.Fatalf("expected id 1, got %v", created.ID)
	}
	if created.Category != transaction.CategoryFixed {
		t.Fatalf("expected classifier category FIJOS, got %q", created.Category)
	}
	if created.Type != string(transaction.TypeExpense) || created.Month != 7 || created.Year != 2024 {
		t.Fatalf("derived fields not set: %+v", created)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions/1", ""), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions/abc", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions/9", ""), http.StatusNotFound)

	rec = s.do(t, http.MethodPatch, "/api/v1/transactions/1", `{"categoria": "DISFRUTE", "importe": 20}`)
	expectStatus(t, rec, http.StatusOK)
	updated := decodeBody[transaction.Record](t, rec)
	if updated.Category != transaction.CategoryLeisure || updated.Type != string(transaction.TypeIncome) {
		t.Fatalf("update not applied: %+v", updated)
	}

	expectStatus(t, s.do(t, http.MethodPatch, "/api/v1/transactions/1", `{}`), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPatch, "/api/v1/transactions/7", `{"notas": "x"}`), http.StatusNotFound)

	rec = s.do(t, http.MethodGet, "/api/v1/transactions/search?q=mercadona", "")
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[transactionList](t, rec); list.Count != 1 {
		t.Fatalf("search count = %d, want 1", list.Count)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions/search", ""), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodDelete, "/api/v1/transactions/1", ""), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/api/v1/transactions/1", ""), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions/latest", ""), http.StatusNotFound)
}

func TestCreateTransaction_Invalid(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/transactions", `{"fecha": "2024-07-03", "concepto": "X"}`), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/transactions", `{not json`), http.StatusBadRequest)
}

func TestListTransactions_Filters(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"fecha": "2024-06-30", "concepto": "A", "importe": -1, "categoria": "FIJOS"}`,
		`{"fecha": "2024-07-01", "concepto": "B", "importe": -2, "categoria": "FIJOS"}`,
		`{"fecha": "2024-07-15", "concepto": "C", "importe": -3, "categoria": "FIJOS"}`,
	} {
		expectStatus(t, s.do(t, http.MethodPost, "/api/v1/transactions", body), http.StatusCreated)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?month=7&year=2024", 2},
		{"?from=2024-07-01&to=2024-07-01", 1},
		{"?year=2023", 0},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodGet, "/api/v1/transactions"+tt.query, "")
		expectStatus(t, rec, http.StatusOK)
		if got := decodeBody[transactionList](t, rec).Count; got != tt.want {
			t.Fatalf("%q: count = %d, want %d", tt.query, got, tt.want)
		}
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions?month=x", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/transactions?from=yesterday", ""), http.StatusBadRequest)
}

func TestRules(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/rules",
		`{"patron": "netflix", "categoria": "DISFRUTE", "tipo": "GASTO"}`), http.StatusCreated)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/rules",
		`{"patron": "netflix", "categoria": "FIJOS"}`), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/rules", `{"categoria": "FIJOS"}`), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/rules", `{"patron": "(", "categoria": "FIJOS"}`), http.StatusBadRequest)

	rec := s.do(t, http.MethodPost, "/api/v1/classify", `{"concepto": "NETFLIX.COM", "importe": -12.99}`)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[classifyResponse](t, rec).Category; got != transaction.CategoryLeisure {
		t.Fatalf("classify = %q, want DISFRUTE", got)
	}

	expectStatus(t, s.do(t, http.MethodPut, "/api/v1/rules/netflix",
		`{"patron": "netflix", "categoria": "EXTRAORDINARIOS"}`), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPut, "/api/v1/rules/missing",
		`{"patron": "missing", "categoria": "FIJOS"}`), http.StatusNotFound)

	rec = s.do(t, http.MethodGet, "/api/v1/rules", "")
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[ruleList](t, rec)
	if list.Count != 3 || list.Rules[2].Category != transaction.CategoryExtraordinary {
		t.Fatalf("unexpected rules: %+v", list)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/api/v1/rules/netflix", ""), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/api/v1/rules/netflix", ""), http.StatusNotFound)

	rec = s.do(t, http.MethodPost, "/api/v1/rules/reload", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[ruleList](t, rec).Count; got != 2 {
		t.Fatalf("reloaded %d rules, want 2", got)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/csv", statement), http.StatusOK)

	rec := s.do(t, http.MethodGet, "/api/v1/metrics/monthly?month=7&year=2024", "")
	expectStatus(t, rec, http.StatusOK)
	totals := decodeBody[metrics.MonthlyTotals](t, rec)
	if totals.Income != 1800 {
		t.Fatalf("income = %v, want 1800", totals.Income)
	}

	// month and year default to the handler clock, July 2024.
	rec = s.do(t, http.MethodGet, "/api/v1/metrics/top-expenses?limit=1", "")
	expectStatus(t, rec, http.StatusOK)
	top := decodeBody[transactionList](t, rec)
	if top.Count != 1 || top.Transactions[0].Description != "ALQUILER" {
		t.Fatalf("unexpected top expenses: %+v", top)
	}

	for _, path := range []string{
		"/api/v1/metrics/annual?year=2024",
		"/api/v1/metrics/evolution",
		"/api/v1/metrics/liquidity",
		"/api/v1/metrics/savings",
		"/api/v1/metrics/daily-spend",
		"/api/v1/metrics/variation",
		"/api/v1/metrics/projection?months=6",
		"/api/v1/metrics/efficiency",
		"/api/v1/metrics/health",
	} {
		expectStatus(t, s.do(t, http.MethodGet, path, ""), http.StatusOK)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/metrics/monthly?month=13", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/metrics/annual?year=1999", ""), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/metrics/projection?months=0", ""), http.StatusBadRequest)
}

func TestImportStatement_Multipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(uploadField, "extracto.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte(statement)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	result := decodeBody[importservice.CSVImportResult](t, rec)
	if result.Import == nil || result.Import.Imported != 3 {
		t.Fatalf("unexpected import result: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/import/csv", statement)
	expectStatus(t, rec, http.StatusOK)
	again := decodeBody[importservice.CSVImportResult](t, rec)
	if again.Import.Duplicates != 3 || again.Import.Imported != 0 {
		t.Fatalf("reimport should only find duplicates: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/import/jobs", "")
	expectStatus(t, rec, http.StatusOK)
	if jobs := decodeBody[[]repository.ImportJob](t, rec); len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
}

func TestParseStatement_Unrecognised(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/import/parse", "just some text\nwithout a header\n")
	expectStatus(t, rec, http.StatusBadRequest)

	var body struct {
		Stats map[string]any `json:"estadisticas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Stats["error"]; !ok || len(body.Stats) != 1 {
		t.Fatalf("expected error-only stats, got %v", body.Stats)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/parse", ""), http.StatusBadRequest)
}

func TestAnalyzeAndSaveMapping(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/import/analyze", statement)
	expectStatus(t, rec, http.StatusOK)
	analysis := decodeBody[importservice.Analysis](t, rec)
	if analysis.Delimiter != ";" || analysis.Mapping.AmountCol != 2 || analysis.MappingFound {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}

	body := fmt.Sprintf(`{"fingerprint": %q, "banco": "Banco Test", "mapeo": {
		"col_fecha": 0, "col_concepto": 1, "col_importe": 2, "col_cargo": -1, "col_abono": -1,
		"col_saldo": 3, "col_categoria": -1, "col_notas": -1, "formato_numero": "european"}}`, analysis.Fingerprint)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/mappings", body), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/mappings", `{"mapeo": {}}`), http.StatusBadRequest)

	rec = s.do(t, http.MethodPost, "/api/v1/import/analyze", statement)
	expectStatus(t, rec, http.StatusOK)
	if !decodeBody[importservice.Analysis](t, rec).MappingFound {
		t.Fatalf("stored mapping not used")
	}
}

func TestImportRecordsAndPreview(t *testing.T) {
	s := newTestServer(t)
	payload := `{"transacciones": [
		{"fecha": "2024-07-01", "concepto": "NOMINA", "importe": 1800},
		{"fecha": "2024-07-02", "concepto": "SIN IMPORTE"}
	]}`

	rec := s.do(t, http.MethodPost, "/api/v1/import/preview", payload)
	expectStatus(t, rec, http.StatusOK)
	preview := decodeBody[importservice.PreviewResult](t, rec)
	if len(preview.New) != 1 || len(preview.Invalid) != 1 {
		t.Fatalf("unexpected preview: %+v", preview)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/import/records", payload)
	expectStatus(t, rec, http.StatusOK)
	result := decodeBody[importservice.ImportResult](t, rec)
	if result.Imported != 1 || result.Failed != 1 {
		t.Fatalf("unexpected import: %+v", result)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/records", `{}`), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/rules",
		`{"patron": "nomina", "categoria": "EXTRAORDINARIOS"}`), http.StatusConflict)
	rec = s.do(t, http.MethodPost, "/api/v1/reclassify", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[importservice.ReclassifyResult](t, rec); got.Total != 1 || got.Updated != 0 {
		t.Fatalf("unexpected reclassify: %+v", got)
	}
}

func TestSync(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/csv", statement), http.StatusOK)

	rec := s.do(t, http.MethodGet, "/api/v1/sync/export", "")
	expectStatus(t, rec, http.StatusOK)
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "finanzas_export_20240720_100000.json") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	exported := rec.Body.String()

	rec = s.do(t, http.MethodPost, "/api/v1/sync/import", exported)
	expectStatus(t, rec, http.StatusOK)
	if stats := decodeBody[syncdb.MergeStats](t, rec); stats.New != 0 || stats.Duplicates != 3 {
		t.Fatalf("unexpected merge: %+v", stats)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/sync/compare", exported)
	expectStatus(t, rec, http.StatusOK)
	if cmp := decodeBody[syncdb.Comparison](t, rec); cmp.InBoth != 3 || cmp.OnlyLocal.Count != 0 {
		t.Fatalf("unexpected comparison: %+v", cmp)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/sync/import", `[`), http.StatusBadRequest)
}

func TestReset(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/import/csv", statement), http.StatusOK)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/admin/reset", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/admin/reset?confirm=true", ""), http.StatusNoContent)

	left, err := s.txs.Query(context.Background(), transaction.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected empty store, got %d", len(left))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", common.ErrNotFound), http.StatusNotFound},
		{rules.ErrRuleNotFound, http.StatusNotFound},
		{common.ErrConflict, http.StatusConflict},
		{rules.ErrDuplicatePattern, http.StatusConflict},
		{transaction.ErrInvalidRecord, http.StatusBadRequest},
		{sniffer.ErrNoHeadersFound, http.StatusBadRequest},
		{rules.ErrEmptyRule, http.StatusBadRequest},
		{context.Canceled, http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
