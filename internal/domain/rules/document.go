package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// document mirrors the persisted rule file: {"reglas": [...]}.
type document struct {
	Rules []ruleRecord `json:"reglas"`
}

type ruleRecord struct {
	Pattern      string    `json:"patron"`
	Category     string    `json:"categoria"`
	Type         string    `json:"tipo"`
	ExactAmounts []float64 `json:"importes_exactos,omitempty"`
}

func (r ruleRecord) toRule() Rule {
	rule := Rule{Pattern: r.Pattern, Category: r.Category, Type: r.Type}
	for _, a := range r.ExactAmounts {
		rule.ExactAmounts = append(rule.ExactAmounts, decimal.NewFromFloat(a).Abs())
	}
	return rule
}

func fromRule(r Rule) ruleRecord {
	rec := ruleRecord{Pattern: r.Pattern, Category: r.Category, Type: r.Type}
	for _, a := range r.ExactAmounts {
		rec.ExactAmounts = append(rec.ExactAmounts, a.Abs().InexactFloat64())
	}
	return rec
}

// readDocument loads the rule file. A missing file yields fs.ErrNotExist.
func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("malformed rule file %s: %w", path, err)
	}
	return doc, nil
}

// writeDocument replaces the rule file in one rename so readers never see a partial write.
func writeDocument(path string, doc document) error {
	if doc.Rules == nil {
		doc.Rules = []ruleRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".reglas-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp rule file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close rule file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace rule file: %w", err)
	}
	return nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
