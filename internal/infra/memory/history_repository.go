package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// HistoryRepository is an in-memory history.Repository for tests and
// no-database runs. Create is conflict-safe on (pin, startedAt), matching
// the unique index the Postgres implementation relies on.
type HistoryRepository struct {
	mu      sync.RWMutex
	records map[string]domain.GameHistory
	byKey   map[string]string // pin|startedAt -> record ID
}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		records: make(map[string]domain.GameHistory),
		byKey:   make(map[string]string),
	}
}

func (r *HistoryRepository) Create(_ context.Context, record domain.GameHistory) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := record.Pin + "|" + record.StartedAt.UTC().Format(time.RFC3339Nano)
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}
	r.records[record.ID] = record
	r.byKey[key] = record.ID
	return record.ID, nil
}

func (r *HistoryRepository) FindByHost(_ context.Context, hostID string) ([]domain.GameHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.GameHistory
	for _, rec := range r.records {
		if rec.HostID == hostID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	return out, nil
}

func (r *HistoryRepository) FindByID(_ context.Context, id, callerID string) (domain.GameHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.GameHistory{}, domain.ErrHistoryNotFound
	}
	if rec.HostID != callerID {
		return domain.GameHistory{}, domain.ErrForbidden
	}
	return rec, nil
}

// Len reports the number of stored records.
func (r *HistoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
