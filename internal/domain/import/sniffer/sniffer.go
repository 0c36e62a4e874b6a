// Package sniffer provides automatic detection of CSV/TSV bank statement layouts.
// It identifies delimiters, header rows and column roles, and generates
// fingerprints so a confirmed column mapping can be recognised on the next import.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback header keywords, already folded (lowercase, no accents).
var headerKeywords = []string{
	"fecha", "f. valor", "concepto", "descripcion", "importe", "cantidad", "cargo", "abono", "saldo",
	"date", "description", "amount", "debit", "credit", "balance",
}

// Lines scanned looking for the header row.
const headerSearchLines = 20

var candidateDelimiters = []rune{';', '\t', ',', '|'}

// FileConfig holds the detected configuration for a CSV/TSV file
type FileConfig struct {
	Delimiter   rune       // The field delimiter (';', ',', '\t', '|')
	SkipLines   int        // Number of metadata lines before headers
	Headers     []string   // Detected header names
	Fingerprint string     // SHA256 hash of normalized headers
	SampleRows  [][]string // First few data rows for preview
}

// ColumnSuggestions holds auto-detected column indices. -1 means not found.
type ColumnSuggestions struct {
	DateCol       int
	DescCol       int
	AmountCol     int
	DebitCol      int
	CreditCol     int
	BalanceCol    int
	CategoryCol   int
	NotesCol      int
	IsDoubleEntry bool // Separate debit/credit columns and no single amount column
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// Fold lowercases s, strips diacritics and trims surrounding space, so
// "Descripción " and "descripcion" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// DetectConfig analyzes a CSV/TSV file and returns its configuration
func DetectConfig(data []byte) (*FileConfig, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	delimiter, skipLines, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimRight(lines[skipLines], "\r")))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	cfg := &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
	}
	cfg.SampleRows = getSampleRows(data, cfg, 5)
	return cfg, nil
}

// Column name candidates, folded. Exact matches win over substring matches.
var (
	dateNames     = []string{"fecha", "fecha operacion", "f. operacion", "fecha valor", "date"}
	descNames     = []string{"concepto", "descripcion", "description", "movimiento"}
	amountNames   = []string{"importe", "cantidad", "amount"}
	debitNames    = []string{"cargo", "debe", "debit"}
	creditNames   = []string{"abono", "haber", "credit"}
	balanceNames  = []string{"saldo posterior", "saldo", "balance"}
	categoryNames = []string{"categoria", "category"}
	notesNames    = []string{"notas", "observaciones", "notes"}
)

// SuggestColumns attempts to auto-match columns based on header names.
// Every role first looks for a header equal to one of its names, then for a
// header containing one; a column claimed by an earlier role is not reused.
func SuggestColumns(headers []string) *ColumnSuggestions {
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = Fold(h)
	}

	taken := make(map[int]bool)
	find := func(names []string) int {
		for _, name := range names {
			for i, h := range folded {
				if !taken[i] && h == name {
					taken[i] = true
					return i
				}
			}
		}
		for _, name := range names {
			for i, h := range folded {
				if !taken[i] && strings.Contains(h, name) {
					taken[i] = true
					return i
				}
			}
		}
		return -1
	}

	s := &ColumnSuggestions{}
	s.DateCol = find(dateNames)
	s.DescCol = find(descNames)
	s.BalanceCol = find(balanceNames)
	s.AmountCol = find(amountNames)
	s.DebitCol = find(debitNames)
	s.CreditCol = find(creditNames)
	s.CategoryCol = find(categoryNames)
	s.NotesCol = find(notesNames)
	s.IsDoubleEntry = s.AmountCol == -1 && s.DebitCol != -1 && s.CreditCol != -1

	return s
}

// isStatementHeader reports whether a folded line names a date, a description
// and an amount column, which is how Spanish bank exports label their table.
func isStatementHeader(line string) bool {
	return strings.Contains(line, "fecha") &&
		(strings.Contains(line, "concepto") || strings.Contains(line, "descripcion")) &&
		(strings.Contains(line, "importe") || strings.Contains(line, "cantidad"))
}

func hasKeyword(line string) bool {
	for _, kw := range headerKeywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// dominantDelimiter returns the candidate delimiter occurring most often in line.
func dominantDelimiter(line string) (rune, int) {
	var best rune
	bestCount := 0
	for _, d := range candidateDelimiters {
		if c := strings.Count(line, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best, bestCount
}

// findHeaderRow locates the header row and its delimiter. A line that names
// date, description and amount columns wins; otherwise the first keyword line
// with at least four columns is taken.
func findHeaderRow(lines []string) (rune, int, error) {
	fallback := -1
	var fallbackDelim rune

	for i, line := range lines {
		if i >= headerSearchLines {
			break
		}
		folded := Fold(line)

		d, count := dominantDelimiter(line)
		if count == 0 {
			continue
		}
		if isStatementHeader(folded) {
			return d, i, nil
		}
		if fallback == -1 && count >= 3 && hasKeyword(folded) {
			fallback, fallbackDelim = i, d
		}
	}

	if fallback >= 0 {
		return fallbackDelim, fallback, nil
	}
	return 0, 0, ErrNoHeadersFound
}

// generateFingerprint creates a stable hash from header names
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, Fold(h))
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

// Body returns the text after the header row.
func Body(data []byte, cfg *FileConfig) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	lines := strings.SplitN(string(data), "\n", cfg.SkipLines+2)
	if len(lines) < cfg.SkipLines+2 {
		return ""
	}
	return lines[cfg.SkipLines+1]
}

// NewReader returns a lenient CSV reader over the rows after the header.
func NewReader(data []byte, cfg *FileConfig) *csv.Reader {
	reader := csv.NewReader(strings.NewReader(Body(data, cfg)))
	reader.Comma = cfg.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

// getSampleRows returns the first N non-blank data rows after the header
func getSampleRows(data []byte, cfg *FileConfig, maxRows int) [][]string {
	reader := NewReader(data, cfg)

	var rows [][]string
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || isBlank(record) {
			continue
		}
		rows = append(rows, record)
	}
	return rows
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
