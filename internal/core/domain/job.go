package domain

import "time"

// JobStatus is the lifecycle of an asynchronous analysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// AnalysisJob tracks one queued analysis request. ReadingID is set once the
// job completes; Error holds the failure message for failed jobs.
type AnalysisJob struct {
	ID        string         `json:"id"`
	Request   AnalyzeRequest `json:"request"`
	Status    JobStatus      `json:"status"`
	ReadingID string         `json:"readingId,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
