package ports

import (
	"context"
	"io"

	"github.com/mkotova/lifeline/internal/core/domain"
)

// KeyValueStore is the persistence provider behind the reading repository:
// one text value per key. A missing key is (value="", ok=false, err=nil).
type KeyValueStore interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// ReadingRepository persists the reading collection, newest first.
//
// List fails open: an empty, missing, or corrupt backing blob yields an empty
// slice, never an error. Append and Delete propagate storage failures.
type ReadingRepository interface {
	List(ctx context.Context) ([]domain.Reading, error)
	Get(ctx context.Context, id string) (domain.Reading, error)
	Append(ctx context.Context, reading domain.Reading) error
	Delete(ctx context.Context, id string) error
}

// JobRepository persists asynchronous analysis job state.
type JobRepository interface {
	Save(ctx context.Context, job domain.AnalysisJob) error
	Get(ctx context.Context, id string) (domain.AnalysisJob, error)
}

// ImageStore holds captured palm images, addressed by opaque keys.
type ImageStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PalmAnalyst is the single-shot multimodal generation surface. All methods
// return the model's raw text; shaping that text is the pipeline's concern.
type PalmAnalyst interface {
	AnalyzePalm(ctx context.Context, image domain.ImagePayload, side domain.HandSide, dominant bool) (string, error)
	QuickInsights(ctx context.Context, image domain.ImagePayload) (string, error)
	CompareHands(ctx context.Context, left, right domain.Reading) (string, error)
}

// ChatModel answers the latest user turn given the accumulated history. The
// history always ends with a user turn.
type ChatModel interface {
	Reply(ctx context.Context, history []domain.ChatTurn) (string, error)
}

// JobQueue publishes/consumes analysis job events.
type JobQueue interface {
	PublishAnalysisRequested(ctx context.Context, jobID string) error
	SubscribeAnalysisRequested(ctx context.Context, handler func(context.Context, string) error) error
}
