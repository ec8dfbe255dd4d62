package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client talks to the Gemini generateContent REST endpoint. The same endpoint
// serves both the single-shot analysis calls and the multi-turn chat: a chat
// turn is just generateContent with the accumulated history as contents.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) AnalyzePalm(ctx context.Context, image domain.ImagePayload, side domain.HandSide, dominant bool) (string, error) {
	contents := []content{{
		Role: "user",
		Parts: []part{
			{Text: palmReadingPrompt(side, dominant)},
			imagePart(image),
		},
	}}
	return c.generate(ctx, "gemini.analyze", contents)
}

func (c *Client) QuickInsights(ctx context.Context, image domain.ImagePayload) (string, error) {
	contents := []content{{
		Role: "user",
		Parts: []part{
			{Text: quickInsightsPrompt},
			imagePart(image),
		},
	}}
	return c.generate(ctx, "gemini.quick_insights", contents)
}

func (c *Client) CompareHands(ctx context.Context, left, right domain.Reading) (string, error) {
	contents := []content{{
		Role:  "user",
		Parts: []part{{Text: compareHandsPrompt(left, right)}},
	}}
	return c.generate(ctx, "gemini.compare", contents)
}

// Reply implements the chat surface: the history (seed turns included) is
// replayed as contents and the model answers the trailing user turn.
func (c *Client) Reply(ctx context.Context, history []domain.ChatTurn) (string, error) {
	contents := make([]content, 0, len(history))
	for _, turn := range history {
		ct := content{Role: string(turn.Role), Parts: []part{{Text: turn.Text}}}
		if turn.Image != nil {
			ct.Parts = append(ct.Parts, imagePart(*turn.Image))
		}
		contents = append(contents, ct)
	}
	return c.generate(ctx, "gemini.chat", contents)
}

func (c *Client) generate(ctx context.Context, operation string, contents []content) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("gemini api key is empty")
	}

	var text string
	call := func(callCtx context.Context) error {
		out, err := c.generateContent(callCtx, contents)
		if err != nil {
			return err
		}
		text = out
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyGeminiError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return text, nil
}
