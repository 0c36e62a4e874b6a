// Package repository provides data access for import-related entities: the
// column mappings remembered per statement layout and the log of import runs.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Import job statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// BankMapping is a confirmed column mapping for one statement layout,
// keyed by the sniffer fingerprint of its header row.
type BankMapping struct {
	Fingerprint  string    `json:"fingerprint"`
	BankName     string    `json:"banco,omitempty"`
	DateFormat   string    `json:"formato_fecha,omitempty"`
	NumberFormat string    `json:"formato_numero"`
	DateCol      int       `json:"col_fecha"`
	DescCol      int       `json:"col_concepto"`
	AmountCol    int       `json:"col_importe"`
	DebitCol     int       `json:"col_cargo"`
	CreditCol    int       `json:"col_abono"`
	BalanceCol   int       `json:"col_saldo"`
	CategoryCol  int       `json:"col_categoria"`
	NotesCol     int       `json:"col_notas"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ImportJob records one import run and its outcome.
type ImportJob struct {
	ID             uuid.UUID  `json:"id"`
	Source         string     `json:"origen"`
	Fingerprint    string     `json:"fingerprint,omitempty"`
	Status         string     `json:"estado"`
	RowsTotal      int        `json:"total"`
	RowsImported   int        `json:"importadas"`
	RowsDuplicates int        `json:"duplicadas"`
	RowsFailed     int        `json:"fallidas"`
	ErrorMessage   *string    `json:"error,omitempty"`
	StartedAt      time.Time  `json:"iniciado"`
	FinishedAt     *time.Time `json:"finalizado,omitempty"`
}

// ImportRepository defines data access operations for imports
type ImportRepository interface {
	// GetMappingByFingerprint returns nil, nil when no mapping is stored.
	GetMappingByFingerprint(ctx context.Context, fingerprint string) (*BankMapping, error)
	// SaveMapping creates or replaces the mapping for its fingerprint.
	SaveMapping(ctx context.Context, mapping *BankMapping) error

	// CreateImportJob assigns the id and start time when they are unset.
	CreateImportJob(ctx context.Context, job *ImportJob) error
	FinishImportJob(ctx context.Context, job *ImportJob) error
	// ListImportJobs returns the most recent jobs first.
	ListImportJobs(ctx context.Context, limit int) ([]ImportJob, error)
}
