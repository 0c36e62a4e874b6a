package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ ImportRepository = (*MemoryImportRepository)(nil)

// MemoryImportRepository keeps mappings and jobs in process memory.
type MemoryImportRepository struct {
	mu       sync.Mutex
	mappings map[string]BankMapping
	jobs     map[uuid.UUID]ImportJob
}

func NewMemoryImportRepository() *MemoryImportRepository {
	return &MemoryImportRepository{
		mappings: make(map[string]BankMapping),
		jobs:     make(map[uuid.UUID]ImportJob),
	}
}

func (r *MemoryImportRepository) GetMappingByFingerprint(_ context.Context, fingerprint string) (*BankMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[fingerprint]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryImportRepository) SaveMapping(_ context.Context, m *BankMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	m.CreatedAt = now
	if prev, ok := r.mappings[m.Fingerprint]; ok {
		m.CreatedAt = prev.CreatedAt
	}
	m.UpdatedAt = now
	r.mappings[m.Fingerprint] = *m
	return nil
}

func (r *MemoryImportRepository) CreateImportJob(_ context.Context, job *ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *MemoryImportRepository) FinishImportJob(_ context.Context, job *ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("failed to finish import job %s: not found", job.ID)
	}
	if job.FinishedAt == nil {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *MemoryImportRepository) ListImportJobs(_ context.Context, limit int) ([]ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]ImportJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
