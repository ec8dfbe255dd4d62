package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkotova/lifeline/internal/config"
	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/usecase"
	"github.com/mkotova/lifeline/internal/observability/metrics"
)

type analysisFake struct {
	submitResp domain.AnalyzeResponse
	submitErr  error
	asyncResp  domain.AnalyzeResponse
	asyncErr   error
	quick      string
	quickErr   error
	comparison string
	compareErr error

	lastReq      domain.AnalyzeRequest
	lastQuickURI string
}

func (f *analysisFake) SubmitAnalysis(_ context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error) {
	f.lastReq = req
	return f.submitResp, f.submitErr
}

func (f *analysisFake) SubmitAnalysisAsync(_ context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error) {
	f.lastReq = req
	return f.asyncResp, f.asyncErr
}

func (f *analysisFake) RunJob(context.Context, string) error { return nil }

func (f *analysisFake) QuickInsights(_ context.Context, imageURI string) (string, error) {
	f.lastQuickURI = imageURI
	return f.quick, f.quickErr
}

func (f *analysisFake) CompareHands(context.Context, string, string) (string, error) {
	return f.comparison, f.compareErr
}

type readingsFake struct {
	readings []domain.Reading
	listErr  error
}

func (f *readingsFake) List(context.Context) ([]domain.Reading, error) {
	return f.readings, f.listErr
}

func (f *readingsFake) Get(_ context.Context, id string) (domain.Reading, error) {
	for _, reading := range f.readings {
		if reading.ID == id {
			return reading, nil
		}
	}
	return domain.Reading{}, domain.WrapError(domain.ErrReadingNotFound, "readings.get", fmt.Errorf("no reading with id %s", id))
}

func (f *readingsFake) Append(_ context.Context, reading domain.Reading) error {
	f.readings = append([]domain.Reading{reading}, f.readings...)
	return nil
}

func (f *readingsFake) Delete(_ context.Context, id string) error {
	kept := f.readings[:0]
	for _, reading := range f.readings {
		if reading.ID != id {
			kept = append(kept, reading)
		}
	}
	f.readings = kept
	return nil
}

type jobsFake struct {
	jobs map[string]domain.AnalysisJob
}

func (f *jobsFake) Save(_ context.Context, job domain.AnalysisJob) error {
	if f.jobs == nil {
		f.jobs = make(map[string]domain.AnalysisJob)
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *jobsFake) Get(_ context.Context, id string) (domain.AnalysisJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return domain.AnalysisJob{}, domain.WrapError(domain.ErrJobNotFound, "jobs.get", fmt.Errorf("no job with id %s", id))
	}
	return job, nil
}

type imagesFake struct {
	saved map[string][]byte
}

func (f *imagesFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saved[key] = raw
	return nil
}

func (f *imagesFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "images.open", fmt.Errorf("no image stored under %s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type chatModelFake struct {
	reply string
	err   error
}

func (f *chatModelFake) Reply(context.Context, []domain.ChatTurn) (string, error) {
	return f.reply, f.err
}

type routerFixture struct {
	analysis *analysisFake
	readings *readingsFake
	jobs     *jobsFake
	images   *imagesFake
	handler  http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	analysis := &analysisFake{}
	readings := &readingsFake{}
	jobs := &jobsFake{}
	images := &imagesFake{saved: map[string][]byte{}}
	chat := usecase.NewChatManager(readings, images, &chatModelFake{reply: "Your life line is strong."}, 8)

	cfg := config.Config{
		MaxImageSizeKB:    2048,
		APIRateLimitRPS:   1000,
		APIRateLimitBurst: 1000,
	}
	router := NewRouter(analysis, chat, readings, jobs, images, nil, cfg, true)
	return &routerFixture{
		analysis: analysis,
		readings: readings,
		jobs:     jobs,
		images:   images,
		handler:  router.Handler(),
	}
}

func multipartPalmRequest(t *testing.T, target string, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if image != nil {
		part, err := writer.CreateFormFile("image", "palm.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func storedReading(id string) domain.Reading {
	return domain.Reading{
		ID:        id,
		HandSide:  domain.HandLeft,
		CreatedAt: time.Now().UTC(),
		ImageURI:  id + ".jpg",
		Sections: []domain.ReadingSection{
			{ID: "life_line", Title: "Life Line", Content: "long and unbroken"},
		},
	}
}

func TestAnalyzeSyncReturnsPersistedReading(t *testing.T) {
	fx := newRouterFixture(t)
	fx.readings.readings = []domain.Reading{storedReading("reading_1")}
	fx.analysis.submitResp = domain.AnalyzeResponse{ReadingID: "reading_1"}

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "left", "isDominant": "true"},
		[]byte{0xff, 0xd8, 0xff, 1, 2, 3})
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	var reading domain.Reading
	if err := json.NewDecoder(res.Body).Decode(&reading); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reading.ID != "reading_1" {
		t.Fatalf("reading id = %q", reading.ID)
	}

	if fx.analysis.lastReq.HandSide != domain.HandLeft || !fx.analysis.lastReq.IsDominant {
		t.Fatalf("request fields lost: %+v", fx.analysis.lastReq)
	}
	if fx.analysis.lastReq.ImageURI == "" {
		t.Fatal("image uri not assigned")
	}
	if _, ok := fx.images.saved[fx.analysis.lastReq.ImageURI]; !ok {
		t.Fatalf("image not stored under %q", fx.analysis.lastReq.ImageURI)
	}
}

func TestAnalyzeAsyncReturnsJobID(t *testing.T) {
	fx := newRouterFixture(t)
	fx.analysis.asyncResp = domain.AnalyzeResponse{JobID: "job_1"}

	req := multipartPalmRequest(t, "/v1/readings/analyze?mode=async",
		map[string]string{"handSide": "right"},
		[]byte{0xff, 0xd8, 0xff})
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var resp domain.AnalyzeResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job_1" {
		t.Fatalf("job id = %q", resp.JobID)
	}
}

func TestAnalyzeAcceptsJSONWithStoredImage(t *testing.T) {
	fx := newRouterFixture(t)
	fx.readings.readings = []domain.Reading{storedReading("reading_1")}
	fx.analysis.submitResp = domain.AnalyzeResponse{ReadingID: "reading_1"}

	body := strings.NewReader(`{"imageUri":"palm_abc.jpg","handSide":"right","isDominant":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/analyze", body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if fx.analysis.lastReq.ImageURI != "palm_abc.jpg" || fx.analysis.lastReq.HandSide != domain.HandRight {
		t.Fatalf("request fields lost: %+v", fx.analysis.lastReq)
	}
}

func TestAnalyzeRejectsUnknownHandSide(t *testing.T) {
	fx := newRouterFixture(t)

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "both"},
		[]byte{0xff, 0xd8, 0xff})
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnalyzeRequiresImageField(t *testing.T) {
	fx := newRouterFixture(t)

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "left"}, nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnalyzeTemporaryModelErrorMaps503(t *testing.T) {
	fx := newRouterFixture(t)
	fx.analysis.submitErr = domain.WrapError(domain.ErrTemporary, "gemini.analyze", fmt.Errorf("status 503"))

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "left"},
		[]byte{0xff, 0xd8, 0xff})
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestListReadings(t *testing.T) {
	fx := newRouterFixture(t)
	fx.readings.readings = []domain.Reading{storedReading("reading_2"), storedReading("reading_1")}

	req := httptest.NewRequest(http.MethodGet, "/v1/readings", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp struct {
		Readings []domain.Reading `json:"readings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Readings) != 2 || resp.Readings[0].ID != "reading_2" {
		t.Fatalf("unexpected list: %+v", resp.Readings)
	}
}

func TestListReadingsEmptyIsArrayNotNull(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/readings", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"readings":[]`) {
		t.Fatalf("expected empty array, got %s", res.Body.String())
	}
}

func TestGetReadingNotFound(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/readings/reading_missing", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDeleteReadingReturns204(t *testing.T) {
	fx := newRouterFixture(t)
	fx.readings.readings = []domain.Reading{storedReading("reading_1")}

	req := httptest.NewRequest(http.MethodDelete, "/v1/readings/reading_1", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(fx.readings.readings) != 0 {
		t.Fatal("reading not deleted")
	}
}

func TestDeleteAbsentReadingStill204(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/readings/reading_missing", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for absent id, got %d", res.Code)
	}
}

func TestGetJobStatus(t *testing.T) {
	fx := newRouterFixture(t)
	_ = fx.jobs.Save(context.Background(), domain.AnalysisJob{ID: "job_1", Status: domain.JobDone, ReadingID: "reading_1"})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var job domain.AnalysisJob
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.Status != domain.JobDone || job.ReadingID != "reading_1" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestGetJobNotFound(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_missing", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestChatMessageRepliesForStoredReading(t *testing.T) {
	fx := newRouterFixture(t)
	reading := storedReading("reading_1")
	fx.readings.readings = []domain.Reading{reading}
	fx.images.saved[reading.ImageURI] = []byte{0xff, 0xd8, 0xff}

	body := strings.NewReader(`{"message":"What does my life line say?"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/reading_1/chat", body)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Your life line is strong." {
		t.Fatalf("reply = %q", resp.Reply)
	}
}

func TestChatMessageUnknownReading(t *testing.T) {
	fx := newRouterFixture(t)

	body := strings.NewReader(`{"message":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/reading_missing/chat", body)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestChatMessageRequiresText(t *testing.T) {
	fx := newRouterFixture(t)

	body := strings.NewReader(`{"message":"   "}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/reading_1/chat", body)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestChatSuggestions(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/suggestions", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Suggestions) != 6 {
		t.Fatalf("expected 6 suggestions, got %d", len(resp.Suggestions))
	}
}

func TestQuickInsights(t *testing.T) {
	fx := newRouterFixture(t)
	fx.analysis.quick = "A promising palm."

	req := multipartPalmRequest(t, "/v1/insights/quick", nil, []byte{0xff, 0xd8, 0xff})
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "A promising palm.") {
		t.Fatalf("insights missing: %s", res.Body.String())
	}
	if fx.analysis.lastQuickURI == "" {
		t.Fatal("quick insights not handed the stored image uri")
	}
}

func TestCompareReadings(t *testing.T) {
	fx := newRouterFixture(t)
	fx.analysis.comparison = "The hands broadly agree."

	body := strings.NewReader(`{"leftId":"reading_1","rightId":"reading_2"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/compare", body)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "The hands broadly agree.") {
		t.Fatalf("comparison missing: %s", res.Body.String())
	}
}

func TestCompareReadingsRequiresBothIDs(t *testing.T) {
	fx := newRouterFixture(t)

	body := strings.NewReader(`{"leftId":"reading_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/readings/compare", body)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestHealthz(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestAnalyzeRejectsOversizedImage(t *testing.T) {
	analysis := &analysisFake{}
	readings := &readingsFake{}
	jobs := &jobsFake{}
	images := &imagesFake{saved: map[string][]byte{}}
	chat := usecase.NewChatManager(readings, images, &chatModelFake{}, 8)
	cfg := config.Config{
		MaxImageSizeKB:    1,
		APIRateLimitRPS:   1000,
		APIRateLimitBurst: 1000,
	}
	handler := NewRouter(analysis, chat, readings, jobs, images, nil, cfg, true).Handler()

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "left"},
		bytes.Repeat([]byte{0xab}, 64*1024))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "size limit") {
		t.Fatalf("size limit error missing: %s", res.Body.String())
	}
	if len(images.saved) != 0 {
		t.Fatal("oversized image must not be stored")
	}
}

func TestAnalyzeRecordsModelCallDuration(t *testing.T) {
	analysis := &analysisFake{submitResp: domain.AnalyzeResponse{ReadingID: "reading_1"}}
	readings := &readingsFake{readings: []domain.Reading{storedReading("reading_1")}}
	jobs := &jobsFake{}
	images := &imagesFake{saved: map[string][]byte{}}
	chat := usecase.NewChatManager(readings, images, &chatModelFake{reply: "ok"}, 8)
	cfg := config.Config{
		MaxImageSizeKB:    2048,
		APIRateLimitRPS:   1000,
		APIRateLimitBurst: 1000,
	}
	m := metrics.NewHTTPServerMetrics("api")
	handler := NewRouter(analysis, chat, readings, jobs, images, m, cfg, true).Handler()

	req := multipartPalmRequest(t, "/v1/readings/analyze",
		map[string]string{"handSide": "left"},
		[]byte{0xff, 0xd8, 0xff})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	scrape := httptest.NewRecorder()
	handler.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()
	if !strings.Contains(body, `lifeline_model_call_duration_seconds_count{operation="analyze",service="api"} 1`) {
		t.Fatalf("model call duration series missing from scrape:\n%s", body)
	}
}
