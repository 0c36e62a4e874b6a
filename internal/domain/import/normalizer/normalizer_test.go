package normalizer

import (
	"errors"
	"testing"
)

func TestParseAmount_European(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"45,23", "45.23"},
		{"1.234,56", "1234.56"},
		{"1.000.000,00", "1000000"},
		{"0,99", "0.99"},
		{"-45,23", "-45.23"},
		{"45,23-", "-45.23"},
		{"(45,23)", "-45.23"},
		{"", "0"},
		{"  45,23  ", "45.23"},
		{"45,23 €", "45.23"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, FormatEuropean)
		if err != nil {
			t.Errorf("ParseAmount(%q, european) error: %v", tc.input, err)
			continue
		}
		if got.String() != tc.expected {
			t.Errorf("ParseAmount(%q, european) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_American(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"45.23", "45.23"},
		{"1,234.56", "1234.56"},
		{"1,000,000.00", "1000000"},
		{"-29.99", "-29.99"},
		{"$45.23", "45.23"},
		{"+2500.00", "2500"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, FormatAmerican)
		if err != nil {
			t.Errorf("ParseAmount(%q, american) error: %v", tc.input, err)
			continue
		}
		if got.String() != tc.expected {
			t.Errorf("ParseAmount(%q, american) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_Auto(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"-925,50", "-925.5"},
		{"12.5", "12.5"},
		{"1,234", "1234"},
		{"1.500", "1.5"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, FormatAuto)
		if err != nil {
			t.Errorf("ParseAmount(%q, auto) error: %v", tc.input, err)
			continue
		}
		if got.String() != tc.expected {
			t.Errorf("ParseAmount(%q, auto) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, input := range []string{"1,2,3,4.5.6", "12-34"} {
		if _, err := ParseAmount(input, FormatEuropean); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) error = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestDetectNumberFormat(t *testing.T) {
	tests := []struct {
		samples  []string
		expected NumberFormat
	}{
		{[]string{"45,23", "1.234,56"}, FormatEuropean},
		{[]string{"45.23", "-29.99"}, FormatAmerican},
		{[]string{"1,234.56"}, FormatAmerican},
		{[]string{"1.234", ""}, FormatEuropean},
		{nil, FormatEuropean},
	}

	for _, tc := range tests {
		if got := DetectNumberFormat(tc.samples); got != tc.expected {
			t.Errorf("DetectNumberFormat(%v) = %s, want %s", tc.samples, got, tc.expected)
		}
	}
}

func TestNormalizeDebitCredit(t *testing.T) {
	tests := []struct {
		debit    string
		credit   string
		format   NumberFormat
		expected string
	}{
		{"45,23", "", FormatEuropean, "-45.23"},
		{"", "500,00", FormatEuropean, "500"},
		{"-12,99", "", FormatEuropean, "-12.99"},
		{"0,00", "10,00", FormatEuropean, "10"},
		{"", "", FormatEuropean, "0"},
		{"29.99", "", FormatAmerican, "-29.99"},
		{"", "2500.00", FormatAmerican, "2500"},
	}

	for _, tc := range tests {
		got, err := NormalizeDebitCredit(tc.debit, tc.credit, tc.format)
		if err != nil {
			t.Errorf("NormalizeDebitCredit(%q, %q) error: %v", tc.debit, tc.credit, err)
			continue
		}
		if got.String() != tc.expected {
			t.Errorf("NormalizeDebitCredit(%q, %q) = %s, want %s", tc.debit, tc.credit, got, tc.expected)
		}
	}
}

func TestParseFlexibleDate(t *testing.T) {
	tests := []struct {
		input    string
		format   string
		expected string
	}{
		{"02-01-2024", "DD-MM-YYYY", "2024-01-02"},
		{"25-12-2024", "", "2024-12-25"},
		{"02/01/2024", "DD/MM/YYYY", "2024-01-02"},
		{"02/01/2024", "", "2024-01-02"},
		{"2/1/2024", "", "2024-01-02"},
		{"01/02/2024", "MM/DD/YYYY", "2024-01-02"},
		{"2024-01-02", "", "2024-01-02"},
		{"2024/01/02", "", "2024-01-02"},
		{"2024-01-02 13:45:00", "", "2024-01-02"},
		{"15.03.24", "DD.MM.YY", "2024-03-15"},
	}

	for _, tc := range tests {
		got, err := ParseFlexibleDate(tc.input, tc.format)
		if err != nil {
			t.Errorf("ParseFlexibleDate(%q, %q) error: %v", tc.input, tc.format, err)
			continue
		}
		if gotStr := got.Format("2006-01-02"); gotStr != tc.expected {
			t.Errorf("ParseFlexibleDate(%q, %q) = %s, want %s", tc.input, tc.format, gotStr, tc.expected)
		}
		if got.Hour() != 0 || got.Location().String() != "UTC" {
			t.Errorf("ParseFlexibleDate(%q) = %v, want a UTC calendar date", tc.input, got)
		}
	}
}

func TestParseFlexibleDate_Invalid(t *testing.T) {
	_, err := ParseFlexibleDate("", "")
	if err != ErrInvalidDate {
		t.Errorf("Expected ErrInvalidDate for empty string, got %v", err)
	}

	_, err = ParseFlexibleDate("not-a-date", "")
	if err != ErrInvalidDate {
		t.Errorf("Expected ErrInvalidDate for invalid string, got %v", err)
	}
}

func TestDetectDateFormat(t *testing.T) {
	tests := []struct {
		samples  []string
		expected string
	}{
		{[]string{"25-12-2024"}, "DD-MM-YYYY"},
		{[]string{"25/12/2024"}, "DD/MM/YYYY"},
		{[]string{"12/25/2024"}, "MM/DD/YYYY"},
		{[]string{"03.04.24"}, "DD.MM.YY"},
		{[]string{"", "2024-12-25"}, "YYYY-MM-DD"},
		{[]string{"2024/12/25"}, "YYYY/MM/DD"},
		{[]string{}, "DD/MM/YYYY"},
		{[]string{"12/05.2024"}, "DD/MM/YYYY"},
		{[]string{"12/05.2024", "25-12-2024"}, "DD-MM-YYYY"},
	}

	for _, tc := range tests {
		got := DetectDateFormat(tc.samples)
		if got != tc.expected {
			t.Errorf("DetectDateFormat(%v) = %s, want %s", tc.samples, got, tc.expected)
		}
	}
}

func TestConvertDateFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DD-MM-YYYY", "02-01-2006"},
		{"MM/DD/YYYY", "01/02/2006"},
		{"YYYY-MM-DD", "2006-01-02"},
		{"DD/MM/YY", "02/01/06"},
		{"DD/MM/YYYY HH:mm:ss", "02/01/2006 15:04:05"},
	}

	for _, tc := range tests {
		got := convertDateFormat(tc.input)
		if got != tc.expected {
			t.Errorf("convertDateFormat(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Mercadona  ", "Mercadona"},
		{"Compra  TARJ   -   Lidl", "Compra TARJ - Lidl"},
		{"Netflix", "Netflix"},
	}

	for _, tc := range tests {
		got := CleanDescription(tc.input)
		if got != tc.expected {
			t.Errorf("CleanDescription(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
