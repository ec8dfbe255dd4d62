package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/ports"
)

// quickInsightsFallback is returned when the preview analysis cannot reach the
// model; the preview is best-effort and never surfaces transport errors.
const quickInsightsFallback = "Unable to analyze palm at this moment. Please try again."

// maxImageBytes caps how much image data is read into memory per analysis.
const maxImageBytes = 8 << 20

type AnalyzeUseCase struct {
	readings ports.ReadingRepository
	jobs     ports.JobRepository
	images   ports.ImageStore
	analyst  ports.PalmAnalyst
	queue    ports.JobQueue
}

func NewAnalyzeUseCase(
	readings ports.ReadingRepository,
	jobs ports.JobRepository,
	images ports.ImageStore,
	analyst ports.PalmAnalyst,
	queue ports.JobQueue,
) *AnalyzeUseCase {
	return &AnalyzeUseCase{
		readings: readings,
		jobs:     jobs,
		images:   images,
		analyst:  analyst,
		queue:    queue,
	}
}

// SubmitAnalysis runs the full synchronous pipeline: load image, call the
// model, shape the response, persist the reading.
func (uc *AnalyzeUseCase) SubmitAnalysis(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error) {
	reading, err := uc.analyze(ctx, req)
	if err != nil {
		return domain.AnalyzeResponse{}, err
	}
	return domain.AnalyzeResponse{ReadingID: reading.ID}, nil
}

// SubmitAnalysisAsync persists a queued job and publishes it for the worker.
func (uc *AnalyzeUseCase) SubmitAnalysisAsync(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.AnalyzeResponse{}, domain.WrapError(domain.ErrInvalidInput, "submit analysis", err)
	}
	now := time.Now().UTC()
	job := domain.AnalysisJob{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.jobs.Save(ctx, job); err != nil {
		return domain.AnalyzeResponse{}, fmt.Errorf("save analysis job: %w", err)
	}
	if err := uc.queue.PublishAnalysisRequested(ctx, job.ID); err != nil {
		return domain.AnalyzeResponse{}, fmt.Errorf("publish analysis job: %w", err)
	}
	return domain.AnalyzeResponse{JobID: job.ID}, nil
}

// RunJob executes one queued job end to end, tracking status transitions.
func (uc *AnalyzeUseCase) RunJob(ctx context.Context, jobID string) error {
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load analysis job: %w", err)
	}

	job.Status = domain.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := uc.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("set job status=running: %w", err)
	}

	reading, runErr := uc.analyze(ctx, job.Request)
	job.UpdatedAt = time.Now().UTC()
	if runErr != nil {
		job.Status = domain.JobFailed
		job.Error = runErr.Error()
		if saveErr := uc.jobs.Save(ctx, job); saveErr != nil {
			return fmt.Errorf("%w; mark job failed: %v", runErr, saveErr)
		}
		return runErr
	}

	job.Status = domain.JobDone
	job.ReadingID = reading.ID
	if err := uc.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("set job status=done: %w", err)
	}
	return nil
}

// QuickInsights gives a short non-persisted preview. Model failures degrade to
// a fixed message instead of propagating.
func (uc *AnalyzeUseCase) QuickInsights(ctx context.Context, imageURI string) (string, error) {
	image, err := uc.loadImage(ctx, imageURI)
	if err != nil {
		return "", err
	}
	text, err := uc.analyst.QuickInsights(ctx, image)
	if err != nil {
		slog.Warn("quick_insights_degraded", "image_uri", imageURI, "error", err)
		return quickInsightsFallback, nil
	}
	return text, nil
}

// CompareHands asks the model for a left-vs-right comparison of two persisted
// readings. Nothing is persisted.
func (uc *AnalyzeUseCase) CompareHands(ctx context.Context, leftID, rightID string) (string, error) {
	left, err := uc.readings.Get(ctx, leftID)
	if err != nil {
		return "", err
	}
	right, err := uc.readings.Get(ctx, rightID)
	if err != nil {
		return "", err
	}
	if left.HandSide != domain.HandLeft || right.HandSide != domain.HandRight {
		return "", domain.WrapError(domain.ErrInvalidInput, "compare hands",
			fmt.Errorf("expected one left and one right reading, got %s/%s", left.HandSide, right.HandSide))
	}
	text, err := uc.analyst.CompareHands(ctx, left, right)
	if err != nil {
		return "", fmt.Errorf("compare hands: %w", err)
	}
	return text, nil
}

func (uc *AnalyzeUseCase) analyze(ctx context.Context, req domain.AnalyzeRequest) (domain.Reading, error) {
	if err := req.Validate(); err != nil {
		return domain.Reading{}, domain.WrapError(domain.ErrInvalidInput, "submit analysis", err)
	}

	image, err := uc.loadImage(ctx, req.ImageURI)
	if err != nil {
		return domain.Reading{}, err
	}

	raw, err := uc.analyst.AnalyzePalm(ctx, image, req.HandSide, req.IsDominant)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("analyze palm image: %w", err)
	}

	parse := ParseSections(raw)
	if !parse.Parsed {
		slog.Warn("model_output_unparsed", "image_uri", req.ImageURI, "response_len", len(raw))
	}

	reading := domain.Reading{
		ID:         "reading_" + uuid.NewString(),
		HandSide:   req.HandSide,
		IsDominant: req.IsDominant,
		CreatedAt:  time.Now().UTC(),
		Sections:   parse.Collapse(),
		ImageURI:   req.ImageURI,
	}
	if err := uc.readings.Append(ctx, reading); err != nil {
		return domain.Reading{}, fmt.Errorf("persist reading: %w", err)
	}
	return reading, nil
}

func (uc *AnalyzeUseCase) loadImage(ctx context.Context, imageURI string) (domain.ImagePayload, error) {
	rc, err := uc.images.Open(ctx, imageURI)
	if err != nil {
		return domain.ImagePayload{}, domain.WrapError(domain.ErrStorage, "open image", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes))
	if err != nil {
		return domain.ImagePayload{}, domain.WrapError(domain.ErrStorage, "read image", err)
	}
	if len(data) == 0 {
		return domain.ImagePayload{}, domain.WrapError(domain.ErrInvalidInput, "read image", fmt.Errorf("image %q is empty", imageURI))
	}
	return domain.ImagePayload{Data: data, MIMEType: sniffImageMIME(data)}, nil
}

func sniffImageMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" {
		return "image/jpeg"
	}
	return mime
}
