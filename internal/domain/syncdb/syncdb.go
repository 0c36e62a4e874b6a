// Package syncdb exports the transaction set as a portable JSON document,
// merges such documents back into the local store and compares them with it.
// Merges only ever add records: nothing local is deleted or overwritten.
package syncdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/finanzas/internal/domain/common"
	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
	"github.com/FACorreiaa/finanzas/pkg/observability"
)

// Version is written into every exported document.
const Version = "1.0"

// Merge outcomes, used as metric label.
const (
	outcomeNew       = "new"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

type Metadata struct {
	ExportedAt        time.Time `json:"exported_at"`
	TotalTransactions int       `json:"total_transactions"`
	Version           string    `json:"version"`
}

// Document is the export format.
type Document struct {
	Metadata     Metadata             `json:"metadata"`
	Transactions []transaction.Record `json:"transacciones"`
}

// incoming defers decoding of each record so one bad entry does not reject the document.
type incoming struct {
	Transactions []json.RawMessage `json:"transacciones"`
}

// MergeStats counts what a merge did with every incoming record.
type MergeStats struct {
	Total      int      `json:"total"`
	New        int      `json:"nuevas"`
	Duplicates int      `json:"duplicadas"`
	Updated    int      `json:"actualizadas"`
	Errors     int      `json:"errores"`
	Details    []string `json:"detalles,omitempty"`
}

type Side struct {
	Count        int                  `json:"count"`
	Transactions []transaction.Record `json:"transacciones"`
}

// Comparison reports which ids exist on only one side.
type Comparison struct {
	TotalLocal  int  `json:"total_local"`
	TotalRemote int  `json:"total_remota"`
	OnlyLocal   Side `json:"solo_en_local"`
	OnlyRemote  Side `json:"solo_en_remota"`
	InBoth      int  `json:"en_ambas"`
}

// contentKey identifies a movement independently of its id.
type contentKey struct {
	date        string
	amount      string
	description string
}

func keyOf(t transaction.Transaction) contentKey {
	return contentKey{
		date:        t.Date.Format(transaction.DateLayout),
		amount:      t.Amount.String(),
		description: t.Description,
	}
}

type Service struct {
	repo   transaction.Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo transaction.Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Export returns every stored transaction, newest first.
func (s *Service) Export(ctx context.Context) (*Document, error) {
	txs, err := s.repo.Query(ctx, transaction.Filter{})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load transactions for export", slog.Any("error", err))
		return nil, fmt.Errorf("failed to export transactions: %w", err)
	}

	return &Document{
		Metadata: Metadata{
			ExportedAt:        s.now(),
			TotalTransactions: len(txs),
			Version:           Version,
		},
		Transactions: transaction.ToRecords(txs),
	}, nil
}

// ExportJSON renders Export as an indented document suitable for download.
func (s *Service) ExportJSON(ctx context.Context) ([]byte, error) {
	doc, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

func decodeDocument(payload []byte) (*incoming, error) {
	var doc incoming
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON document: %v", common.ErrBadRequest, err)
	}
	return &doc, nil
}

// Merge adds the records of an exported document that are not stored yet. A
// record is a duplicate when its id is already used, or when a stored record
// has the same date, amount and description.
func (s *Service) Merge(ctx context.Context, payload []byte) (*MergeStats, error) {
	l := s.logger.With(slog.String("method", "Merge"))

	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, err
	}

	local, err := s.repo.Query(ctx, transaction.Filter{})
	if err != nil {
		l.ErrorContext(ctx, "failed to load local transactions", slog.Any("error", err))
		return nil, fmt.Errorf("failed to load local transactions: %w", err)
	}

	ids := make(map[int64]bool, len(local))
	contents := make(map[contentKey]bool, len(local))
	for _, t := range local {
		ids[t.ID] = true
		contents[keyOf(t)] = true
	}

	stats := &MergeStats{Total: len(doc.Transactions)}
	fail := func(i int, err error) {
		stats.Errors++
		stats.Details = append(stats.Details, fmt.Sprintf("record %d: %v", i+1, err))
		observability.SyncRecords.WithLabelValues(outcomeError).Inc()
		l.WarnContext(ctx, "record skipped", slog.Int("index", i), slog.Any("error", err))
	}
	duplicate := func() {
		stats.Duplicates++
		observability.SyncRecords.WithLabelValues(outcomeDuplicate).Inc()
	}

	for i, raw := range doc.Transactions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var rec transaction.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			fail(i, err)
			continue
		}
		if rec.ID != nil && ids[*rec.ID] {
			duplicate()
			continue
		}

		tx, err := transaction.FromRecord(rec)
		if err != nil {
			fail(i, err)
			continue
		}
		if rec.Category == "" {
			tx.Category = transaction.CategoryUnclassified
		}
		key := keyOf(*tx)
		if contents[key] {
			duplicate()
			continue
		}

		if rec.ID != nil && *rec.ID > 0 {
			err = s.repo.Restore(ctx, tx)
		} else {
			_, err = s.repo.Insert(ctx, tx)
		}
		if errors.Is(err, common.ErrConflict) {
			duplicate()
			continue
		}
		if err != nil {
			fail(i, err)
			continue
		}

		ids[tx.ID] = true
		contents[key] = true
		stats.New++
		observability.SyncRecords.WithLabelValues(outcomeNew).Inc()
	}

	l.InfoContext(ctx, "merge finished",
		slog.Int("total", stats.Total),
		slog.Int("new", stats.New),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

// Compare matches local and remote transactions by id.
func (s *Service) Compare(ctx context.Context, payload []byte) (*Comparison, error) {
	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, err
	}

	local, err := s.repo.Query(ctx, transaction.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load local transactions: %w", err)
	}

	remote := make([]transaction.Record, 0, len(doc.Transactions))
	for i, raw := range doc.Transactions {
		var rec transaction.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.WarnContext(ctx, "remote record ignored", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		remote = append(remote, rec)
	}

	remoteIDs := make(map[int64]bool, len(remote))
	for _, r := range remote {
		if r.ID != nil {
			remoteIDs[*r.ID] = true
		}
	}
	localIDs := make(map[int64]bool, len(local))

	cmp := &Comparison{
		TotalLocal:  len(local),
		TotalRemote: len(remote),
		OnlyLocal:   Side{Transactions: []transaction.Record{}},
		OnlyRemote:  Side{Transactions: []transaction.Record{}},
	}
	for _, t := range local {
		localIDs[t.ID] = true
		if remoteIDs[t.ID] {
			cmp.InBoth++
			continue
		}
		cmp.OnlyLocal.Transactions = append(cmp.OnlyLocal.Transactions, transaction.ToRecord(t))
	}
	for _, r := range remote {
		if r.ID == nil || !localIDs[*r.ID] {
			cmp.OnlyRemote.Transactions = append(cmp.OnlyRemote.Transactions, r)
		}
	}
	cmp.OnlyLocal.Count = len(cmp.OnlyLocal.Transactions)
	cmp.OnlyRemote.Count = len(cmp.OnlyRemote.Transactions)
	return cmp, nil
}
