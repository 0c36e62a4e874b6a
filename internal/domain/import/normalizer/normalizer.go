// Package normalizer handles regional money and date parsing.
// Converts bank statement cells into decimal amounts and calendar dates.
package normalizer

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
)

// NumberFormat selects the decimal and thousands separators of an amount column.
type NumberFormat int

const (
	// FormatAuto decides per value: the right-most separator is the decimal one.
	FormatAuto NumberFormat = iota
	// FormatEuropean reads 1.234,56.
	FormatEuropean
	// FormatAmerican reads 1,234.56.
	FormatAmerican
)

func (f NumberFormat) String() string {
	switch f {
	case FormatEuropean:
		return "european"
	case FormatAmerican:
		return "american"
	default:
		return "auto"
	}
}

// ParseNumberFormat reads the names produced by String. Unknown names are auto.
func ParseNumberFormat(s string) NumberFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "european", "eu":
		return FormatEuropean
	case "american", "us":
		return FormatAmerican
	default:
		return FormatAuto
	}
}

func (f NumberFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *NumberFormat) UnmarshalText(b []byte) error {
	*f = ParseNumberFormat(string(b))
	return nil
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	isoPattern   = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`)
	dmyPattern   = regexp.MustCompile(`^\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}$`)
)

// ParseAmount converts a cell to a decimal amount.
// An empty cell is zero. Currency symbols and spaces are ignored; a trailing
// minus ("45,23-") and accounting parentheses ("(45,23)") mark negatives.
func ParseAmount(raw string, format NumberFormat) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		negative = true
		raw = raw[1 : len(raw)-1]
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' || r == '+' {
			return r
		}
		return -1
	}, raw)

	if strings.HasSuffix(cleaned, "-") {
		negative = !negative
		cleaned = strings.TrimSuffix(cleaned, "-")
	}
	if strings.HasPrefix(cleaned, "-") {
		negative = !negative
		cleaned = strings.TrimPrefix(cleaned, "-")
	}
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" {
		return decimal.Zero, nil
	}
	if strings.ContainsAny(cleaned, "-+") {
		return decimal.Zero, ErrInvalidAmount
	}

	if format == FormatAuto {
		format = guessFormat(cleaned)
	}

	switch format {
	case FormatEuropean:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	val, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if negative {
		val = val.Neg()
	}
	return val, nil
}

// guessFormat picks the separator that appears last as the decimal one.
// A lone comma followed by exactly three digits ("1,234") reads as thousands.
func guessFormat(s string) NumberFormat {
	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma == -1:
		return FormatAmerican
	case dot == -1:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 != 3 {
			return FormatEuropean
		}
		return FormatAmerican
	case comma > dot:
		return FormatEuropean
	default:
		return FormatAmerican
	}
}

// DetectNumberFormat looks at sample cells and returns the format that reads all
// of them unambiguously, preferring European when the samples cannot tell.
func DetectNumberFormat(samples []string) NumberFormat {
	european, american := 0, 0
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		comma := strings.LastIndex(s, ",")
		dot := strings.LastIndex(s, ".")
		switch {
		case comma > dot:
			european++
		case dot > comma && comma != -1:
			american++
		case dot > comma && len(s)-dot-1 != 3:
			american++
		}
	}
	if american > european {
		return FormatAmerican
	}
	return FormatEuropean
}

// NormalizeDebitCredit merges separate debit and credit columns into a single signed amount.
// Debit = negative (money out), Credit = positive (money in)
func NormalizeDebitCredit(debitStr, creditStr string, format NumberFormat) (decimal.Decimal, error) {
	debitStr = strings.TrimSpace(debitStr)
	creditStr = strings.TrimSpace(creditStr)

	if debitStr != "" {
		amount, err := ParseAmount(debitStr, format)
		if err != nil {
			return decimal.Zero, err
		}
		if !amount.IsZero() {
			return amount.Abs().Neg(), nil
		}
	}

	if creditStr != "" {
		amount, err := ParseAmount(creditStr, format)
		if err != nil {
			return decimal.Zero, err
		}
		return amount.Abs(), nil
	}

	return decimal.Zero, nil
}

// Date layouts tried in order. Day-first comes before month-first.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",

	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2-1-2006",
	"2/1/2006",
	"2.1.2006",
	"02/01/06",
	"02-01-06",

	"01/02/2006",
	"1/2/2006",

	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04",
	"02/01/2006 15:04:05",
}

// ParseFlexibleDate attempts to parse a date using multiple formats.
// The result is always a UTC calendar date.
func ParseFlexibleDate(raw string, preferredFormat string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if preferredFormat != "" {
		if t, err := time.Parse(convertDateFormat(preferredFormat), raw); err == nil {
			return dateOnly(t), nil
		}
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return dateOnly(t), nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Longer tokens first so YYYY is not eaten by YY.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// convertDateFormat converts user-friendly format strings to Go format
// e.g., "DD-MM-YYYY" -> "02-01-2006"
func convertDateFormat(format string) string {
	return dateTokens.Replace(format)
}

// DetectDateFormat guesses the layout of a date column from sample cells.
func DetectDateFormat(samples []string) string {
	for _, raw := range samples {
		sample := strings.TrimSpace(raw)
		if sample == "" {
			continue
		}

		if isoPattern.MatchString(sample) {
			if strings.Contains(sample, "/") {
				return "YYYY/MM/DD"
			}
			return "YYYY-MM-DD"
		}

		if dmyPattern.MatchString(sample) {
			sep := string(sample[strings.IndexAny(sample, "-/.")])
			parts := strings.Split(sample, sep)
			// mixed separators, e.g. 12/05.2024
			if len(parts) != 3 {
				continue
			}
			first, _ := strconv.Atoi(parts[0])
			second, _ := strconv.Atoi(parts[1])
			year := "YYYY"
			if len(parts[2]) == 2 {
				year = "YY"
			}
			if second > 12 && first <= 12 {
				return "MM" + sep + "DD" + sep + year
			}
			return "DD" + sep + "MM" + sep + year
		}
	}
	return "DD/MM/YYYY"
}

// CleanDescription trims and collapses whitespace.
func CleanDescription(raw string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
}
