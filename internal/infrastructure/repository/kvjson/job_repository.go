package kvjson

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/ports"
)

const jobsKey = "palm_jobs"

// JobRepository keeps the job table as one JSON object keyed by job id.
// Unlike readings, a corrupt jobs blob is a hard error: job state drives the
// worker and must not silently reset.
type JobRepository struct {
	mu    sync.Mutex
	store ports.KeyValueStore
}

func NewJobRepository(store ports.KeyValueStore) *JobRepository {
	return &JobRepository{store: store}
}

func (r *JobRepository) Save(ctx context.Context, job domain.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.loadLocked(ctx)
	if err != nil {
		return err
	}
	jobs[job.ID] = job

	raw, err := json.Marshal(jobs)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "jobs.save", err)
	}
	if err := r.store.SetItem(ctx, jobsKey, string(raw)); err != nil {
		return domain.WrapError(domain.ErrStorage, "jobs.save", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (domain.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.loadLocked(ctx)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	job, ok := jobs[id]
	if !ok {
		return domain.AnalysisJob{}, domain.WrapError(domain.ErrJobNotFound, "jobs.get", fmt.Errorf("no job with id %s", id))
	}
	return job, nil
}

func (r *JobRepository) loadLocked(ctx context.Context) (map[string]domain.AnalysisJob, error) {
	raw, ok, err := r.store.GetItem(ctx, jobsKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "jobs.load", err)
	}
	if !ok || raw == "" {
		return make(map[string]domain.AnalysisJob), nil
	}

	var jobs map[string]domain.AnalysisJob
	if err := json.Unmarshal([]byte(raw), &jobs); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "jobs.load", err)
	}
	if jobs == nil {
		jobs = make(map[string]domain.AnalysisJob)
	}
	return jobs, nil
}
