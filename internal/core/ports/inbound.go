package ports

import (
	"context"

	"github.com/mkotova/lifeline/internal/core/domain"
)

// AnalysisService is the inbound contract for the analyze-then-persist pipeline.
type AnalysisService interface {
	SubmitAnalysis(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error)
	SubmitAnalysisAsync(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error)
	RunJob(ctx context.Context, jobID string) error
	QuickInsights(ctx context.Context, imageURI string) (string, error)
	CompareHands(ctx context.Context, leftID, rightID string) (string, error)
}

// ChatService hands out conversation sessions anchored to persisted readings.
type ChatService interface {
	SendMessage(ctx context.Context, readingID, message string) (string, error)
}
