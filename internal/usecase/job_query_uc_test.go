package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
)

func seedJobs(t *testing.T, repo *memJobRepo, owner string, n int) []*model.Job {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*model.Job, 0, n)
	for i := 0; i < n; i++ {
		j, err := model.NewJob(fmt.Sprintf("%s-%02d", owner, i), owner, model.MediaKindImage, "a.png", "/s", "/d")
		if err != nil {
			t.Fatalf("failed to build job: %v", err)
		}
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(context.Background(), nil, j); err != nil {
			t.Fatalf("failed to seed job: %v", err)
		}
		out = append(out, j)
	}
	return out
}

func TestJobQueryUseCase(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("should return an owned job", func(t *testing.T) {
		repo := newMemJobRepo()
		jobs := seedJobs(t, repo, "alice", 1)
		uc := NewJobQueryUseCase(repo, &passTM{}, &logger)

		j, err := uc.Get(ctx, "alice", jobs[0].ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if j.ID != jobs[0].ID {
			t.Errorf("expected %s, got %s", jobs[0].ID, j.ID)
		}
	})

	t.Run("should hide jobs owned by someone else", func(t *testing.T) {
		repo := newMemJobRepo()
		jobs := seedJobs(t, repo, "alice", 1)
		uc := NewJobQueryUseCase(repo, &passTM{}, &logger)

		if _, err := uc.Get(ctx, "bob", jobs[0].ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for a foreign owner, got %v", err)
		}
		if _, err := uc.Get(ctx, "alice", "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for a missing job, got %v", err)
		}
	})

	t.Run("should page newest first", func(t *testing.T) {
		repo := newMemJobRepo()
		seedJobs(t, repo, "alice", 25)
		seedJobs(t, repo, "bob", 3)
		tm := &passTM{}
		uc := NewJobQueryUseCase(repo, tm, &logger)

		page, err := uc.List(ctx, "alice", 3, 10)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := Pagination{Page: 3, Limit: 10, Total: 25, Pages: 3}
		if page.Pagination != want {
			t.Errorf("pagination: got %+v, want %+v", page.Pagination, want)
		}
		if len(page.Jobs) != 5 {
			t.Fatalf("expected 5 jobs, got %d", len(page.Jobs))
		}
		if page.Jobs[0].ID != "alice-04" || page.Jobs[4].ID != "alice-00" {
			t.Errorf("unexpected order: first %s, last %s", page.Jobs[0].ID, page.Jobs[4].ID)
		}
		if tm.calls != 1 {
			t.Errorf("expected 1 transaction, got %d", tm.calls)
		}
	})

	t.Run("should normalize paging arguments", func(t *testing.T) {
		repo := newMemJobRepo()
		seedJobs(t, repo, "alice", 2)
		uc := NewJobQueryUseCase(repo, &passTM{}, &logger)

		page, err := uc.List(ctx, "alice", 0, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := Pagination{Page: 1, Limit: DefaultPageLimit, Total: 2, Pages: 1}
		if page.Pagination != want {
			t.Errorf("pagination: got %+v, want %+v", page.Pagination, want)
		}

		page, err = uc.List(ctx, "alice", 1, 1000)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if page.Pagination.Limit != MaxPageLimit {
			t.Errorf("expected limit %d, got %d", MaxPageLimit, page.Pagination.Limit)
		}
	})

	t.Run("should return an empty list for unknown owners", func(t *testing.T) {
		uc := NewJobQueryUseCase(newMemJobRepo(), &passTM{}, &logger)
		page, err := uc.List(ctx, "nobody", 1, 10)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if page.Jobs == nil || len(page.Jobs) != 0 {
			t.Errorf("expected an empty non-nil list, got %#v", page.Jobs)
		}
		if page.Pagination.Pages != 0 {
			t.Errorf("expected 0 pages, got %d", page.Pagination.Pages)
		}
	})
}
