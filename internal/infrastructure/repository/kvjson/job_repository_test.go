package kvjson

import (
	"context"
	"testing"
	"time"

	"github.com/mkotova/lifeline/internal/core/domain"
)

func sampleJob(id string, status domain.JobStatus) domain.AnalysisJob {
	return domain.AnalysisJob{
		ID:        id,
		Request:   domain.AnalyzeRequest{ImageURI: "palm.jpg", HandSide: domain.HandRight},
		Status:    status,
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestJobSaveGetRoundTrip(t *testing.T) {
	repo := NewJobRepository(newKVFake())
	ctx := context.Background()

	want := sampleJob("job_1", domain.JobQueued)
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, "job_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Request.ImageURI != "palm.jpg" {
		t.Fatalf("request lost: %+v", got.Request)
	}
}

func TestJobSaveOverwritesStatus(t *testing.T) {
	repo := NewJobRepository(newKVFake())
	ctx := context.Background()

	if err := repo.Save(ctx, sampleJob("job_1", domain.JobQueued)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	done := sampleJob("job_1", domain.JobDone)
	done.ReadingID = "reading_1"
	if err := repo.Save(ctx, done); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, "job_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobDone || got.ReadingID != "reading_1" {
		t.Fatalf("update lost: %+v", got)
	}
}

func TestJobGetUnknownID(t *testing.T) {
	repo := NewJobRepository(newKVFake())

	_, err := repo.Get(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobCorruptBlobIsHardError(t *testing.T) {
	kv := newKVFake()
	kv.items[jobsKey] = `{broken`
	repo := NewJobRepository(kv)

	if _, err := repo.Get(context.Background(), "job_1"); !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage on corrupt jobs blob, got %v", err)
	}
}
