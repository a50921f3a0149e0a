package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/grocery-carbon/internal/jobs"
)

func TestStore_SaveCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.Job{ID: "j1", TransactionID: "t1", Status: jobs.StatusPending}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	job.Status = jobs.StatusFailed

	got, err := s.Latest(ctx, "t1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got == nil || got.Status != jobs.StatusPending {
		t.Errorf("Latest() = %+v, want pending j1", got)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	if err := NewStore().Save(context.Background(), &jobs.Job{TransactionID: "t1"}); err == nil {
		t.Fatal("expected error for job without ID")
	}
}

func TestStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if got, err := s.Latest(ctx, "t1"); err != nil || got != nil {
		t.Fatalf("Latest() on empty store = %+v, %v; want nil, nil", got, err)
	}

	_ = s.Save(ctx, &jobs.Job{ID: "b", TransactionID: "t1", Status: jobs.StatusFailed, CreatedAt: base.Add(time.Minute)})
	// An older job saved later does not displace the newer one.
	_ = s.Save(ctx, &jobs.Job{ID: "a", TransactionID: "t1", Status: jobs.StatusCompleted, CreatedAt: base})
	_ = s.Save(ctx, &jobs.Job{ID: "c", TransactionID: "t2", Status: jobs.StatusPending, CreatedAt: base})

	got, _ := s.Latest(ctx, "t1")
	if got == nil || got.ID != "b" {
		t.Fatalf("Latest(t1) = %+v, want job b", got)
	}

	// Updating the latest job keeps it latest.
	_ = s.Save(ctx, &jobs.Job{ID: "b", TransactionID: "t1", Status: jobs.StatusCompleted, CreatedAt: base.Add(time.Minute)})
	got, _ = s.Latest(ctx, "t1")
	if got.ID != "b" || got.Status != jobs.StatusCompleted {
		t.Errorf("Latest(t1) = %+v, want completed job b", got)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, j := range []jobs.Job{
		{ID: "a", TransactionID: "t1", Status: jobs.StatusCompleted},
		{ID: "b", TransactionID: "t2", Status: jobs.StatusFailed},
		{ID: "c", TransactionID: "t1", Status: jobs.StatusFailed},
		{ID: "d", TransactionID: "t3", Status: jobs.StatusPending},
		{ID: "e", TransactionID: "t4", Status: jobs.StatusRetrying},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Save(ctx, &j); err != nil {
			t.Fatalf("Save(%s) error = %v", j.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.Filter
		want   []string
	}{
		{"all", jobs.Filter{}, []string{"a", "b", "c", "d", "e"}},
		{"by transaction", jobs.Filter{TransactionID: "t1"}, []string{"a", "c"}},
		{"by status", jobs.Filter{Statuses: []jobs.Status{jobs.StatusFailed}}, []string{"b", "c"}},
		{"active", jobs.Filter{Statuses: jobs.ActiveStatuses}, []string{"d", "e"}},
		{"transaction and status", jobs.Filter{TransactionID: "t1", Statuses: []jobs.Status{jobs.StatusFailed}}, []string{"c"}},
		{"no match", jobs.Filter{TransactionID: "t9"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("jobs[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}
