package sniffer

import (
	"strings"
	"testing"
)

// Spanish bank export with a metadata preamble
const sampleSpanishCSV = `Cuenta;ES12 3456 7890 1234 5678 9012
Titular;Ana Pérez

Fecha;Fecha valor;Concepto;Importe;Saldo posterior
01/07/2024;01/07/2024;NOMINA JULIO;1.800,00;2.800,00
03/07/2024;03/07/2024;MERCADONA VALENCIA;-85,40;2.714,60
05/07/2024;05/07/2024;ALQUILER PISO;-650,00;2.064,60
`

// Comma separated with only three columns
const sampleThreeColumnCSV = `fecha,descripción,cantidad
2024-07-01,Nomina,1800.00
2024-07-03,Mercadona,-85.40
`

const sampleEnglishCSV = `Date,Description,Amount,Category
01/02/2024,Starbucks,-5.40,Food & Dining
01/03/2024,Amazon,-29.99,Shopping
01/05/2024,Payroll,2500.00,Income
`

const sampleTSV = "F. Operación\tF. Valor\tConcepto\tImporte\tSaldo\r\n" +
	"02-01-2024\t02-01-2024\tBIZUM RECIBIDO\t45,23\t954,77\r\n" +
	"03-01-2024\t03-01-2024\tNETFLIX\t-12,99\t941,78\r\n"

func TestDetectConfig_SpanishCSV(t *testing.T) {
	config, err := DetectConfig([]byte(sampleSpanishCSV))
	if err != nil {
		t.Fatalf("DetectConfig failed: %v", err)
	}

	if config.Delimiter != ';' {
		t.Errorf("Expected delimiter ';', got '%c'", config.Delimiter)
	}
	if config.SkipLines != 3 {
		t.Errorf("Expected 3 skip lines, got %d", config.SkipLines)
	}

	expectedHeaders := []string{"Fecha", "Fecha valor", "Concepto", "Importe", "Saldo posterior"}
	if strings.Join(config.Headers, "|") != strings.Join(expectedHeaders, "|") {
		t.Errorf("Expected headers %v, got %v", expectedHeaders, config.Headers)
	}
	if config.Fingerprint == "" {
		t.Error("Expected non-empty fingerprint")
	}
	if len(config.SampleRows) != 3 {
		t.Fatalf("Expected 3 sample rows, got %d", len(config.SampleRows))
	}
	if config.SampleRows[0][2] != "NOMINA JULIO" {
		t.Errorf("Expected first sample row concept NOMINA JULIO, got %s", config.SampleRows[0][2])
	}
}

func TestDetectConfig_ThreeColumns(t *testing.T) {
	config, err := DetectConfig([]byte(sampleThreeColumnCSV))
	if err != nil {
		t.Fatalf("DetectConfig failed: %v", err)
	}

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter ',', got '%c'", config.Delimiter)
	}
	if config.SkipLines != 0 {
		t.Errorf("Expected 0 skip lines, got %d", config.SkipLines)
	}
	if len(config.Headers) != 3 {
		t.Errorf("Expected 3 headers, got %d", len(config.Headers))
	}
}

func TestDetectConfig_EnglishFallback(t *testing.T) {
	config, err := DetectConfig([]byte(sampleEnglishCSV))
	if err != nil {
		t.Fatalf("DetectConfig failed: %v", err)
	}

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter ',', got '%c'", config.Delimiter)
	}
	if len(config.Headers) != 4 {
		t.Errorf("Expected 4 headers, got %d", len(config.Headers))
	}
}

func TestDetectConfig_TSV(t *testing.T) {
	config, err := DetectConfig([]byte(sampleTSV))
	if err != nil {
		t.Fatalf("DetectConfig failed: %v", err)
	}

	if config.Delimiter != '\t' {
		t.Errorf("Expected tab delimiter, got '%c'", config.Delimiter)
	}
	if config.Headers[len(config.Headers)-1] != "Saldo" {
		t.Errorf("Expected trailing carriage return stripped, got %q", config.Headers[len(config.Headers)-1])
	}
	if len(config.SampleRows) != 2 {
		t.Errorf("Expected 2 sample rows, got %d", len(config.SampleRows))
	}
}

func TestDetectConfig_EmptyFile(t *testing.T) {
	for _, data := range []string{"", "\xef\xbb\xbf", "  \n \n"} {
		if _, err := DetectConfig([]byte(data)); err != ErrEmptyFile {
			t.Errorf("DetectConfig(%q): expected ErrEmptyFile, got %v", data, err)
		}
	}
}

func TestDetectConfig_NoHeaders(t *testing.T) {
	data := `Just some random text
Without any recognizable headers
Or proper CSV structure`

	_, err := DetectConfig([]byte(data))
	if err != ErrNoHeadersFound {
		t.Errorf("Expected ErrNoHeadersFound, got %v", err)
	}
}

func TestFold(t *testing.T) {
	tests := map[string]string{
		"Descripción ":    "descripcion",
		"F. OPERACIÓN":    "f. operacion",
		"Categoría":       "categoria",
		"Saldo posterior": "saldo posterior",
	}
	for in, want := range tests {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSuggestColumns_Spanish(t *testing.T) {
	headers := []string{"Fecha", "Fecha valor", "Concepto", "Importe", "Saldo posterior", "Observaciones"}

	s := SuggestColumns(headers)

	if s.DateCol != 0 {
		t.Errorf("Expected date column 0, got %d", s.DateCol)
	}
	if s.DescCol != 2 {
		t.Errorf("Expected description column 2, got %d", s.DescCol)
	}
	if s.AmountCol != 3 {
		t.Errorf("Expected amount column 3, got %d", s.AmountCol)
	}
	if s.BalanceCol != 4 {
		t.Errorf("Expected balance column 4, got %d", s.BalanceCol)
	}
	if s.NotesCol != 5 {
		t.Errorf("Expected notes column 5, got %d", s.NotesCol)
	}
	if s.CategoryCol != -1 {
		t.Errorf("Expected no category column, got %d", s.CategoryCol)
	}
	if s.IsDoubleEntry {
		t.Error("Expected IsDoubleEntry to be false for single amount column")
	}
}

func TestSuggestColumns_ExactBeatsSubstring(t *testing.T) {
	headers := []string{"Fecha operación", "Descripción", "Saldo", "Importe EUR", "Saldo posterior"}

	s := SuggestColumns(headers)

	if s.DateCol != 0 {
		t.Errorf("Expected date column 0, got %d", s.DateCol)
	}
	if s.BalanceCol != 4 {
		t.Errorf("Expected exact 'saldo posterior' column 4, got %d", s.BalanceCol)
	}
	if s.AmountCol != 3 {
		t.Errorf("Expected substring amount column 3, got %d", s.AmountCol)
	}
}

func TestSuggestColumns_DoubleEntry(t *testing.T) {
	headers := []string{"Fecha", "Concepto", "Cargo", "Abono", "Saldo", "Categoría"}

	s := SuggestColumns(headers)

	if s.AmountCol != -1 {
		t.Errorf("Expected no amount column, got %d", s.AmountCol)
	}
	if s.DebitCol != 2 || s.CreditCol != 3 {
		t.Errorf("Expected debit/credit columns 2/3, got %d/%d", s.DebitCol, s.CreditCol)
	}
	if s.CategoryCol != 5 {
		t.Errorf("Expected category column 5, got %d", s.CategoryCol)
	}
	if !s.IsDoubleEntry {
		t.Error("Expected IsDoubleEntry to be true")
	}
}

func TestGenerateFingerprint_Consistency(t *testing.T) {
	fp1 := generateFingerprint([]string{"Fecha", "Concepto", "Importe", "Saldo"})
	fp2 := generateFingerprint([]string{"Fecha", "Concepto", "Importe", "Saldo"})
	fp3 := generateFingerprint([]string{"Date", "Description", "Amount", "Balance"})

	if fp1 != fp2 {
		t.Error("Same headers should produce same fingerprint")
	}
	if fp1 == fp3 {
		t.Error("Different headers should produce different fingerprint")
	}
}

func TestGenerateFingerprint_CaseAndAccentInsensitive(t *testing.T) {
	fp1 := generateFingerprint([]string{"FECHA", "DESCRIPCIÓN", "Importe (€)"})
	fp2 := generateFingerprint([]string{"fecha", "descripcion", "importe"})

	if fp1 != fp2 {
		t.Error("Fingerprint should ignore case, accents and punctuation")
	}
}

func TestNewReader_SkipsPreamble(t *testing.T) {
	config, err := DetectConfig([]byte(sampleSpanishCSV))
	if err != nil {
		t.Fatalf("DetectConfig failed: %v", err)
	}

	records, err := NewReader([]byte(sampleSpanishCSV), config).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 data rows, got %d", len(records))
	}
	if records[2][2] != "ALQUILER PISO" {
		t.Errorf("Expected last concept ALQUILER PISO, got %s", records[2][2])
	}
}
