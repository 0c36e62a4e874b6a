// Package service provides the import orchestration logic: statement parsing,
// classification, duplicate detection, persistence and reclassification.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finanzas/internal/domain/import/repository"
	"github.com/FACorreiaa/finanzas/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
	"github.com/FACorreiaa/finanzas/pkg/observability"
)

// Import sources, used as job source and metric label.
const (
	SourceRecords = "records"
	SourceCSV     = "csv"
)

// Record outcomes, used as metric label.
const (
	outcomeImported  = "imported"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// Classifier assigns a category to a description and signed amount.
type Classifier interface {
	Classify(description string, amount decimal.Decimal) string
}

// ColumnMapping defines how to map CSV columns to transaction fields. -1 marks an absent column.
type ColumnMapping struct {
	DateCol       int                     `json:"col_fecha"`
	DescCol       int                     `json:"col_concepto"`
	AmountCol     int                     `json:"col_importe"`
	DebitCol      int                     `json:"col_cargo"`
	CreditCol     int                     `json:"col_abono"`
	BalanceCol    int                     `json:"col_saldo"`
	CategoryCol   int                     `json:"col_categoria"`
	NotesCol      int                     `json:"col_notas"`
	IsDoubleEntry bool                    `json:"doble_columna"`
	NumberFormat  normalizer.NumberFormat `json:"formato_numero"`
	DateFormat    string                  `json:"formato_fecha,omitempty"`
}

// Validate reports a mapping that cannot produce records.
func (m ColumnMapping) Validate() error {
	if m.DateCol < 0 {
		return fmt.Errorf("%w: no date column", common.ErrBadRequest)
	}
	if m.DescCol < 0 {
		return fmt.Errorf("%w: no description column", common.ErrBadRequest)
	}
	if m.IsDoubleEntry {
		if m.DebitCol < 0 && m.CreditCol < 0 {
			return fmt.Errorf("%w: no debit or credit column", common.ErrBadRequest)
		}
		return nil
	}
	if m.AmountCol < 0 {
		return fmt.Errorf("%w: no amount column", common.ErrBadRequest)
	}
	return nil
}

// Analysis describes an uploaded statement before it is imported.
type Analysis struct {
	Delimiter    string        `json:"delimitador"`
	SkipLines    int           `json:"lineas_omitidas"`
	Headers      []string      `json:"cabeceras"`
	Fingerprint  string        `json:"fingerprint"`
	SampleRows   [][]string    `json:"muestra"`
	Mapping      ColumnMapping `json:"mapeo"`
	MappingFound bool          `json:"mapeo_guardado"`
}

// ParseStats is the processing summary of a statement parse. When Error is
// set the parse failed and the counters are not reported.
type ParseStats struct {
	SheetsProcessed   int    `json:"total_sheets_processed"`
	TransactionsFound int    `json:"total_transactions_found"`
	Error             string `json:"error,omitempty"`
}

func (s ParseStats) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(map[string]string{"error": s.Error})
	}
	type plain ParseStats
	return json.Marshal(plain(s))
}

// ParseResult is the normalized output of the statement adapter.
type ParseResult struct {
	Records     []transaction.Record `json:"transacciones"`
	Stats       ParseStats           `json:"estadisticas"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	Skipped     int                  `json:"omitidas"`
	Errors      []string             `json:"errores,omitempty"`
}

// ImportResult contains the result of an import operation
type ImportResult struct {
	JobID      uuid.UUID `json:"job_id"`
	Total      int       `json:"total"`
	Imported   int       `json:"imported"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors"`
}

// CSVImportResult joins the parse summary and the import outcome of a statement file.
type CSVImportResult struct {
	Parse  *ParseResult  `json:"lectura"`
	Import *ImportResult `json:"importacion"`
}

// PreviewResult splits records into the ones an import would store and the ones it would skip.
type PreviewResult struct {
	New        []transaction.Record `json:"nuevas"`
	Duplicates []transaction.Record `json:"duplicadas"`
	Invalid    []string             `json:"invalidas"`
}

// ReclassifyChange is one transaction whose category changed.
type ReclassifyChange struct {
	ID          int64  `json:"id"`
	Description string `json:"concepto"`
	Before      string `json:"anterior"`
	After       string `json:"nueva"`
}

// ReclassifyResult summarizes a reclassification run.
type ReclassifyResult struct {
	Total   int                `json:"total"`
	Updated int                `json:"actualizadas"`
	Before  map[string]int     `json:"antes"`
	After   map[string]int     `json:"despues"`
	Changes []ReclassifyChange `json:"cambios"`
}

// ImportService orchestrates file analysis and import operations
type ImportService struct {
	transactions transaction.Repository
	imports      repository.ImportRepository
	classifier   Classifier
	logger       *slog.Logger
}

type parseJob struct {
	lineNum int
	record  []string
}

type parseResult struct {
	lineNum int
	record  *transaction.Record
	skipped bool
	err     error
}

// NewImportService creates a new import service
func NewImportService(transactions transaction.Repository, imports repository.ImportRepository, classifier Classifier, logger *slog.Logger) *ImportService {
	return &ImportService{
		transactions: transactions,
		imports:      imports,
		classifier:   classifier,
		logger:       logger,
	}
}

// MappingFromSuggestions builds a mapping from the detected columns and the sample rows.
func MappingFromSuggestions(s *sniffer.ColumnSuggestions, cfg *sniffer.FileConfig) ColumnMapping {
	m := ColumnMapping{
		DateCol:       s.DateCol,
		DescCol:       s.DescCol,
		AmountCol:     s.AmountCol,
		DebitCol:      s.DebitCol,
		CreditCol:     s.CreditCol,
		BalanceCol:    s.BalanceCol,
		CategoryCol:   s.CategoryCol,
		NotesCol:      s.NotesCol,
		IsDoubleEntry: s.IsDoubleEntry,
	}

	var dates, amounts []string
	for _, row := range cfg.SampleRows {
		dates = append(dates, cell(row, m.DateCol))
		for _, col := range []int{m.AmountCol, m.DebitCol, m.CreditCol, m.BalanceCol} {
			amounts = append(amounts, cell(row, col))
		}
	}
	m.DateFormat = normalizer.DetectDateFormat(dates)
	m.NumberFormat = normalizer.DetectNumberFormat(amounts)
	return m
}

func mappingFromStored(b *repository.BankMapping) ColumnMapping {
	return ColumnMapping{
		DateCol:       b.DateCol,
		DescCol:       b.DescCol,
		AmountCol:     b.AmountCol,
		DebitCol:      b.DebitCol,
		CreditCol:     b.CreditCol,
		BalanceCol:    b.BalanceCol,
		CategoryCol:   b.CategoryCol,
		NotesCol:      b.NotesCol,
		IsDoubleEntry: b.AmountCol < 0 && (b.DebitCol >= 0 || b.CreditCol >= 0),
		NumberFormat:  normalizer.ParseNumberFormat(b.NumberFormat),
		DateFormat:    b.DateFormat,
	}
}

// resolveMapping prefers the mapping stored for the layout over the detected one.
func (s *ImportService) resolveMapping(ctx context.Context, cfg *sniffer.FileConfig) (ColumnMapping, bool, error) {
	stored, err := s.imports.GetMappingByFingerprint(ctx, cfg.Fingerprint)
	if err != nil {
		return ColumnMapping{}, false, fmt.Errorf("failed to lookup mapping: %w", err)
	}
	if stored != nil {
		return mappingFromStored(stored), true, nil
	}
	return MappingFromSuggestions(sniffer.SuggestColumns(cfg.Headers), cfg), false, nil
}

// Analyze detects the layout of a statement file and the mapping an import would use.
func (s *ImportService) Analyze(ctx context.Context, data []byte) (*Analysis, error) {
	cfg, err := sniffer.DetectConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze file: %w", err)
	}

	mapping, found, err := s.resolveMapping(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Delimiter:    string(cfg.Delimiter),
		SkipLines:    cfg.SkipLines,
		Headers:      cfg.Headers,
		Fingerprint:  cfg.Fingerprint,
		SampleRows:   cfg.SampleRows,
		Mapping:      mapping,
		MappingFound: found,
	}, nil
}

// SaveMapping remembers a confirmed mapping for the layout with the given fingerprint.
func (s *ImportService) SaveMapping(ctx context.Context, fingerprint, bankName string, mapping ColumnMapping) error {
	if strings.TrimSpace(fingerprint) == "" {
		return fmt.Errorf("%w: missing fingerprint", common.ErrBadRequest)
	}
	if err := mapping.Validate(); err != nil {
		return err
	}
	if mapping.IsDoubleEntry {
		mapping.AmountCol = -1
	}

	return s.imports.SaveMapping(ctx, &repository.BankMapping{
		Fingerprint:  fingerprint,
		BankName:     bankName,
		DateFormat:   mapping.DateFormat,
		NumberFormat: mapping.NumberFormat.String(),
		DateCol:      mapping.DateCol,
		DescCol:      mapping.DescCol,
		AmountCol:    mapping.AmountCol,
		DebitCol:     mapping.DebitCol,
		CreditCol:    mapping.CreditCol,
		BalanceCol:   mapping.BalanceCol,
		CategoryCol:  mapping.CategoryCol,
		NotesCol:     mapping.NotesCol,
	})
}

// ParseCSV turns a statement file into normalized records. On a fatal error the
// returned result carries only the error summary.
func (s *ImportService) ParseCSV(ctx context.Context, data []byte) (*ParseResult, error) {
	l := s.logger.With(slog.String("method", "ParseCSV"))

	cfg, err := sniffer.DetectConfig(data)
	if err != nil {
		l.WarnContext(ctx, "statement layout not recognised", slog.Any("error", err))
		return &ParseResult{Stats: ParseStats{Error: err.Error()}}, fmt.Errorf("failed to detect file config: %w", err)
	}

	mapping, found, err := s.resolveMapping(ctx, cfg)
	if err != nil {
		l.ErrorContext(ctx, "failed to resolve mapping", slog.Any("error", err))
		return &ParseResult{Stats: ParseStats{Error: err.Error()}}, err
	}
	if err := mapping.Validate(); err != nil {
		return &ParseResult{Stats: ParseStats{Error: err.Error()}, Fingerprint: cfg.Fingerprint}, err
	}

	result, err := s.parse(ctx, data, cfg, mapping)
	if err != nil {
		return &ParseResult{Stats: ParseStats{Error: err.Error()}, Fingerprint: cfg.Fingerprint}, err
	}

	l.InfoContext(ctx, "statement parsed",
		slog.String("fingerprint", cfg.Fingerprint),
		slog.Bool("stored_mapping", found),
		slog.Int("records", len(result.Records)),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *ImportService) parse(ctx context.Context, data []byte, cfg *sniffer.FileConfig, mapping ColumnMapping) (*ParseResult, error) {
	parseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type lineError struct {
		lineNum int
		err     error
	}

	var (
		parsed   []parseResult
		lineErrs []lineError
		skipped  int
	)
	for r := range s.parseTransactionsStream(parseCtx, data, cfg, mapping) {
		switch {
		case r.err != nil:
			lineErrs = append(lineErrs, lineError{lineNum: r.lineNum, err: r.err})
		case r.skipped:
			skipped++
		default:
			parsed = append(parsed, r)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].lineNum < parsed[j].lineNum })
	sort.Slice(lineErrs, func(i, j int) bool { return lineErrs[i].lineNum < lineErrs[j].lineNum })

	result := &ParseResult{
		Records:     make([]transaction.Record, 0, len(parsed)),
		Fingerprint: cfg.Fingerprint,
		Skipped:     skipped,
	}
	for _, p := range parsed {
		result.Records = append(result.Records, *p.record)
	}
	for _, e := range lineErrs {
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", e.lineNum, e.err))
	}
	result.Stats = ParseStats{SheetsProcessed: 1, TransactionsFound: len(result.Records)}
	return result, nil
}

// parseTransactionsStream streams parsed rows from a CSV file. Results arrive
// out of order; lineNum is the 1-indexed line in the original file.
func (s *ImportService) parseTransactionsStream(ctx context.Context, data []byte, cfg *sniffer.FileConfig, mapping ColumnMapping) <-chan parseResult {
	reader := sniffer.NewReader(data, cfg)
	// The header occupies line SkipLines+1; body line n is file line SkipLines+1+n.
	offset := cfg.SkipLines + 1

	workerCount := runtime.GOMAXPROCS(0)
	if workerCount < 1 {
		workerCount = 1
	}

	results := make(chan parseResult, workerCount*4)
	jobs := make(chan parseJob, workerCount*4)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				rec, skipped, err := parseRow(job.record, mapping)
				select {
				case results <- parseResult{lineNum: job.lineNum, record: rec, skipped: skipped, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				lineNum := offset
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					lineNum += perr.StartLine
				}
				select {
				case results <- parseResult{lineNum: lineNum, err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}
			line, _ := reader.FieldPos(0)
			select {
			case jobs <- parseJob{lineNum: offset + line, record: record}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func cell(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[col])
}

// knownCategory returns the built-in category named by raw, if any.
func knownCategory(raw string) string {
	name := strings.ToUpper(strings.ReplaceAll(sniffer.Fold(raw), " ", "_"))
	for _, c := range transaction.BuiltinCategories {
		if name == c {
			return c
		}
	}
	return ""
}

// parseRow converts a CSV row into a normalized record. Rows without a
// description or an amount are summary or filler lines and are skipped.
func parseRow(record []string, mapping ColumnMapping) (*transaction.Record, bool, error) {
	description := normalizer.CleanDescription(cell(record, mapping.DescCol))

	var amountCells []string
	if mapping.IsDoubleEntry {
		amountCells = []string{cell(record, mapping.DebitCol), cell(record, mapping.CreditCol)}
	} else {
		amountCells = []string{cell(record, mapping.AmountCol)}
	}
	if description == "" || strings.Join(amountCells, "") == "" {
		return nil, true, nil
	}

	dateStr := cell(record, mapping.DateCol)
	date, err := normalizer.ParseFlexibleDate(dateStr, mapping.DateFormat)
	if err != nil {
		return nil, false, fmt.Errorf("invalid date '%s': %w", dateStr, err)
	}

	var amount decimal.Decimal
	if mapping.IsDoubleEntry {
		amount, err = normalizer.NormalizeDebitCredit(amountCells[0], amountCells[1], mapping.NumberFormat)
	} else {
		amount, err = normalizer.ParseAmount(amountCells[0], mapping.NumberFormat)
	}
	if err != nil {
		return nil, false, fmt.Errorf("invalid amount: %w", err)
	}

	value := amount.InexactFloat64()
	rec := &transaction.Record{
		Date:        date.Format(transaction.DateLayout),
		Description: description,
		Amount:      &value,
		Category:    knownCategory(cell(record, mapping.CategoryCol)),
		Type:        string(transaction.TypeFor(amount)),
		Month:       int(date.Month()),
		Year:        date.Year(),
		Notes:       cell(record, mapping.NotesCol),
	}

	if raw := cell(record, mapping.BalanceCol); raw != "" {
		balance, err := normalizer.ParseAmount(raw, mapping.NumberFormat)
		if err != nil {
			return nil, false, fmt.Errorf("invalid balance: %w", err)
		}
		b := balance.InexactFloat64()
		rec.BalanceAfter = &b
	}

	return rec, false, nil
}

// prepare validates a record and fills in its category.
func (s *ImportService) prepare(rec transaction.Record) (*transaction.Transaction, error) {
	tx, err := transaction.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	tx.Description = normalizer.CleanDescription(tx.Description)
	if strings.TrimSpace(tx.Category) == "" {
		tx.Category = s.classifier.Classify(tx.Description, tx.Amount)
	}
	return tx, nil
}

// ImportRecords classifies, de-duplicates and stores adapter records. A bad
// record is counted and skipped; it never aborts the batch.
func (s *ImportService) ImportRecords(ctx context.Context, source string, records []transaction.Record) (*ImportResult, error) {
	return s.importRecords(ctx, source, "", records)
}

func (s *ImportService) importRecords(ctx context.Context, source, fingerprint string, records []transaction.Record) (*ImportResult, error) {
	l := s.logger.With(slog.String("method", "ImportRecords"), slog.String("source", source))

	job := &repository.ImportJob{Source: source, Fingerprint: fingerprint, Status: repository.JobRunning}
	if err := s.imports.CreateImportJob(ctx, job); err != nil {
		l.ErrorContext(ctx, "failed to create import job", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	result := &ImportResult{JobID: job.ID, Total: len(records), Errors: []string{}}
	fail := func(i int, err error) {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
		observability.ImportedRecords.WithLabelValues(source, outcomeFailed).Inc()
	}

	var abortErr error
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			abortErr = err
			break
		}

		tx, err := s.prepare(rec)
		if err != nil {
			fail(i, err)
			continue
		}

		exists, err := s.transactions.Exists(ctx, tx.Date, tx.Amount)
		if err != nil {
			fail(i, fmt.Errorf("duplicate check: %w", err))
			continue
		}
		if exists {
			result.Duplicates++
			observability.ImportedRecords.WithLabelValues(source, outcomeDuplicate).Inc()
			continue
		}

		if _, err := s.transactions.Insert(ctx, tx); err != nil {
			fail(i, fmt.Errorf("insert: %w", err))
			continue
		}
		result.Imported++
		observability.ImportedRecords.WithLabelValues(source, outcomeImported).Inc()
	}

	job.Status = repository.JobSucceeded
	job.RowsTotal = result.Total
	job.RowsImported = result.Imported
	job.RowsDuplicates = result.Duplicates
	job.RowsFailed = result.Failed
	if abortErr != nil {
		job.Status = repository.JobFailed
		msg := abortErr.Error()
		job.ErrorMessage = &msg
	}
	// The request context may already be gone; the job row is still closed out.
	if err := s.imports.FinishImportJob(context.WithoutCancel(ctx), job); err != nil {
		l.WarnContext(ctx, "failed to finish import job", slog.Any("error", err))
	}

	if abortErr != nil {
		l.WarnContext(ctx, "import interrupted", slog.Int("processed", result.Imported+result.Duplicates+result.Failed))
		return result, abortErr
	}

	l.InfoContext(ctx, "import finished",
		slog.String("job_id", job.ID.String()),
		slog.Int("total", result.Total),
		slog.Int("imported", result.Imported),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// ImportCSV parses a statement file and imports the records it yields.
func (s *ImportService) ImportCSV(ctx context.Context, data []byte) (*CSVImportResult, error) {
	parsed, err := s.ParseCSV(ctx, data)
	if err != nil {
		return &CSVImportResult{Parse: parsed}, err
	}

	imported, err := s.importRecords(ctx, SourceCSV, parsed.Fingerprint, parsed.Records)
	return &CSVImportResult{Parse: parsed, Import: imported}, err
}

// Preview reports which records an import would store without writing anything.
func (s *ImportService) Preview(ctx context.Context, records []transaction.Record) (*PreviewResult, error) {
	result := &PreviewResult{
		New:        []transaction.Record{},
		Duplicates: []transaction.Record{},
		Invalid:    []string{},
	}

	// Records earlier in the same batch count as stored.
	type key struct {
		date   string
		amount string
	}
	pending := make(map[key]bool)

	for i, rec := range records {
		tx, err := s.prepare(rec)
		if err != nil {
			result.Invalid = append(result.Invalid, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		k := key{date: tx.Date.Format(transaction.DateLayout), amount: tx.Amount.String()}
		exists := pending[k]
		if !exists {
			exists, err = s.transactions.Exists(ctx, tx.Date, tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("duplicate check: %w", err)
			}
		}

		out := transaction.ToRecord(*tx)
		out.ID = nil
		if exists {
			result.Duplicates = append(result.Duplicates, out)
			continue
		}
		pending[k] = true
		result.New = append(result.New, out)
	}
	return result, nil
}

// Reclassify runs the classifier over every stored transaction and updates
// those whose category changes.
func (s *ImportService) Reclassify(ctx context.Context) (*ReclassifyResult, error) {
	l := s.logger.With(slog.String("method", "Reclassify"))

	txs, err := s.transactions.Query(ctx, transaction.Filter{})
	if err != nil {
		l.ErrorContext(ctx, "failed to load transactions", slog.Any("error", err))
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	result := &ReclassifyResult{
		Total:   len(txs),
		Before:  make(map[string]int),
		After:   make(map[string]int),
		Changes: []ReclassifyChange{},
	}

	// Oldest first so the change list reads chronologically.
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		category := s.classifier.Classify(tx.Description, tx.Amount)
		result.Before[tx.Category]++

		if category == tx.Category {
			result.After[tx.Category]++
			continue
		}

		ok, err := s.transactions.Update(ctx, tx.ID, transaction.Update{Category: &category})
		if err != nil {
			l.ErrorContext(ctx, "failed to update category", slog.Int64("id", tx.ID), slog.Any("error", err))
			return nil, fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
		}
		if !ok {
			result.After[tx.Category]++
			continue
		}

		result.After[category]++
		result.Updated++
		result.Changes = append(result.Changes, ReclassifyChange{
			ID:          tx.ID,
			Description: tx.Description,
			Before:      tx.Category,
			After:       category,
		})
	}

	l.InfoContext(ctx, "reclassification finished",
		slog.Int("total", result.Total),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}

// Jobs lists the most recent import runs.
func (s *ImportService) Jobs(ctx context.Context, limit int) ([]repository.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	jobs, err := s.imports.ListImportJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	if jobs == nil {
		jobs = []repository.ImportJob{}
	}
	return jobs, nil
}
