package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/rules"
)

// ruleBody is the wire form of a rule, the same shape as the rule file entries.
type ruleBody struct {
	Pattern      string    `json:"patron"`
	Category     string    `json:"categoria"`
	Type         string    `json:"tipo,omitempty"`
	ExactAmounts []float64 `json:"importes_exactos,omitempty"`
}

func (b ruleBody) toRule() rules.Rule {
	r := rules.Rule{Pattern: b.Pattern, Category: b.Category, Type: b.Type}
	for _, a := range b.ExactAmounts {
		r.ExactAmounts = append(r.ExactAmounts, decimal.NewFromFloat(a).Abs())
	}
	return r
}

func bodyOf(r rules.Rule) ruleBody {
	b := ruleBody{Pattern: r.Pattern, Category: r.Category, Type: r.Type}
	for _, a := range r.ExactAmounts {
		b.ExactAmounts = append(b.ExactAmounts, a.InexactFloat64())
	}
	return b
}

type ruleList struct {
	Count int        `json:"count"`
	Rules []ruleBody `json:"reglas"`
}

func (h *FinanceHandler) listRules() ruleList {
	loaded := h.rules.Rules()
	out := ruleList{Count: len(loaded), Rules: make([]ruleBody, 0, len(loaded))}
	for _, r := range loaded {
		out.Rules = append(out.Rules, bodyOf(r))
	}
	return out
}

func (h *FinanceHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.listRules())
}

func (h *FinanceHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ruleBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.rules.Add(ctx, body.toRule()); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, body)
}

// UpdateRule replaces the rule addressed by its current pattern.
func (h *FinanceHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ruleBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.rules.Update(ctx, r.PathValue("pattern"), body.toRule()); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, body)
}

func (h *FinanceHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.rules.Delete(ctx, r.PathValue("pattern")); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules rereads the rule file and returns what got loaded.
func (h *FinanceHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	h.rules.Load(r.Context())
	h.writeJSON(r.Context(), w, http.StatusOK, h.listRules())
}
