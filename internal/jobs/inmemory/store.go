package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/grocery-carbon/internal/jobs"
)

// Store is an in-memory jobs.Store. It keeps every job by ID plus an index
// of the newest job per transaction. Data is lost on restart.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]jobs.Job
	latest map[string]string // transaction ID -> job ID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]jobs.Job),
		latest: make(map[string]string),
	}
}

// Save stores a copy of job, replacing any earlier state with the same ID.
func (s *Store) Save(ctx context.Context, job *jobs.Job) error {
	if job.ID == "" {
		return fmt.Errorf("Save: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[job.ID] = *job
	if cur, ok := s.latest[job.TransactionID]; !ok || newer(job, s.byID[cur]) {
		s.latest[job.TransactionID] = job.ID
	}
	return nil
}

// Latest implements jobs.Store.
func (s *Store) Latest(ctx context.Context, transactionID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latest[transactionID]
	if !ok {
		return nil, nil
	}
	job := s.byID[id]
	return &job, nil
}

// List returns matching jobs ordered by creation time, then ID.
func (s *Store) List(ctx context.Context, f jobs.Filter) ([]*jobs.Job, error) {
	s.mu.RLock()
	var out []*jobs.Job
	for _, job := range s.byID {
		if f.Match(&job) {
			j := job
			out = append(out, &j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return newer(out[b], *out[a]) })
	return out, nil
}

// newer orders jobs by creation time, breaking ties on ID.
func newer(a *jobs.Job, b jobs.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

var _ jobs.Store = (*Store)(nil)
