package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	importservice "github.com/FACorreiaa/finanzas/internal/domain/import/service"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

// recordsRequest has the shape of a parse result, so its output can be posted back as is.
type recordsRequest struct {
	Transactions []transaction.Record `json:"transacciones"`
}

type mappingRequest struct {
	Fingerprint string                      `json:"fingerprint"`
	BankName    string                      `json:"banco"`
	Mapping     importservice.ColumnMapping `json:"mapeo"`
}

func (h *FinanceHandler) AnalyzeStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readPayload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	analysis, err := h.imports.Analyze(ctx, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, analysis)
}

// ParseStatement returns the normalized records of a statement without storing them.
// A failed parse still answers with the {"error"} summary in estadisticas.
func (h *FinanceHandler) ParseStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readPayload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	result, err := h.imports.ParseCSV(ctx, data)
	if err != nil {
		if result == nil {
			h.writeError(ctx, w, err)
			return
		}
		h.writeJSON(ctx, w, statusFor(err), result)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, result)
}

func (h *FinanceHandler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readPayload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	result, err := h.imports.ImportCSV(ctx, data)
	if err != nil {
		if result == nil || result.Parse == nil {
			h.writeError(ctx, w, err)
			return
		}
		h.writeJSON(ctx, w, statusFor(err), result)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, result)
}

func (h *FinanceHandler) decodeRecords(w http.ResponseWriter, r *http.Request) ([]transaction.Record, error) {
	var req recordsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	if req.Transactions == nil {
		return nil, fmt.Errorf("%w: transacciones is required", common.ErrBadRequest)
	}
	return req.Transactions, nil
}

func (h *FinanceHandler) ImportRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.decodeRecords(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	result, err := h.imports.ImportRecords(ctx, importservice.SourceRecords, records)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, result)
}

func (h *FinanceHandler) PreviewRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.decodeRecords(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	result, err := h.imports.Preview(ctx, records)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, result)
}

// SaveMapping stores a confirmed column mapping for a statement layout.
func (h *FinanceHandler) SaveMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.imports.SaveMapping(ctx, req.Fingerprint, strings.TrimSpace(req.BankName), req.Mapping); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FinanceHandler) ImportJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	jobs, err := h.imports.Jobs(ctx, limit)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, jobs)
}

func (h *FinanceHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.imports.Reclassify(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, result)
}

// Export serves the whole transaction set as a downloadable document.
func (h *FinanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := h.sync.ExportJSON(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	name := fmt.Sprintf("finanzas_export_%s.json", h.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.ErrorContext(ctx, "failed to write export", slog.Any("error", err))
	}
}

func (h *FinanceHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readPayload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	stats, err := h.sync.Merge(ctx, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, stats)
}

func (h *FinanceHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := readPayload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	cmp, err := h.sync.Compare(ctx, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, cmp)
}
