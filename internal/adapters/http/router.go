package httpadapter

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkotova/lifeline/internal/config"
	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/ports"
	"github.com/mkotova/lifeline/internal/core/usecase"
	"github.com/mkotova/lifeline/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	analysis ports.AnalysisService
	chat     *usecase.ChatManager
	readings ports.ReadingRepository
	jobs     ports.JobRepository
	images   ports.ImageStore
	metrics  *metrics.HTTPServerMetrics
	cfg      config.Config

	asyncEnabled bool
}

func NewRouter(
	analysis ports.AnalysisService,
	chat *usecase.ChatManager,
	readings ports.ReadingRepository,
	jobs ports.JobRepository,
	images ports.ImageStore,
	m *metrics.HTTPServerMetrics,
	cfg config.Config,
	asyncEnabled bool,
) *Router {
	return &Router{
		analysis:     analysis,
		chat:         chat,
		readings:     readings,
		jobs:         jobs,
		images:       images,
		metrics:      m,
		cfg:          cfg,
		asyncEnabled: asyncEnabled,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/readings", rt.listReadings)
	mux.HandleFunc("/v1/readings/analyze", rt.analyzeReading)
	mux.HandleFunc("/v1/readings/compare", rt.compareReadings)
	mux.HandleFunc("/v1/readings/", rt.readingSubtree)
	mux.HandleFunc("/v1/jobs/", rt.getJob)
	mux.HandleFunc("/v1/chat/suggestions", rt.chatSuggestions)
	mux.HandleFunc("/v1/insights/quick", rt.quickInsights)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, defaultMaxConcurrent, defaultBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) analyzeReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	req, ok := rt.acceptPalmImage(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("mode") == "async" {
		if !rt.asyncEnabled {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "async mode is not enabled"})
			return
		}
		resp, err := rt.analysis.SubmitAnalysisAsync(r.Context(), req)
		if rt.metrics != nil {
			rt.metrics.RecordAnalysis(serviceName, "async", false, err)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	start := time.Now()
	resp, err := rt.analysis.SubmitAnalysis(r.Context(), req)
	if rt.metrics != nil {
		rt.metrics.ObserveModelCall(serviceName, "analyze", time.Since(start))
	}
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordAnalysis(serviceName, "sync", false, err)
		}
		writeError(w, err)
		return
	}

	reading, err := rt.readings.Get(r.Context(), resp.ReadingID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordAnalysis(serviceName, "sync", usecase.IsFallback(reading.Sections), nil)
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (rt *Router) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	readings, err := rt.readings.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

// readingSubtree dispatches /v1/readings/{id} and /v1/readings/{id}/chat.
func (rt *Router) readingSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/readings/")
	if rest == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading id is required"})
		return
	}

	if id, found := strings.CutSuffix(rest, "/chat"); found {
		rt.chatMessage(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.getReading(w, r, rest)
	case http.MethodDelete:
		rt.deleteReading(w, r, rest)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getReading(w http.ResponseWriter, r *http.Request, id string) {
	reading, err := rt.readings.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (rt *Router) deleteReading(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.readings.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if rt.chat != nil {
		rt.chat.Evict(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	job, err := rt.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) chatMessage(w http.ResponseWriter, r *http.Request, readingID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if readingID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading id is required"})
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	start := time.Now()
	reply, err := rt.chat.SendMessage(r.Context(), readingID, req.Message)
	if rt.metrics != nil {
		rt.metrics.RecordChatTurn(serviceName, err)
		rt.metrics.ObserveModelCall(serviceName, "chat", time.Since(start))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (rt *Router) chatSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": usecase.SuggestedQuestions()})
}

func (rt *Router) quickInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	key, ok := rt.savePalmImage(w, r)
	if !ok {
		return
	}

	start := time.Now()
	insights, err := rt.analysis.QuickInsights(r.Context(), key)
	if rt.metrics != nil {
		rt.metrics.ObserveModelCall(serviceName, "quick_insights", time.Since(start))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"insights": insights})
}

func (rt *Router) compareReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		LeftID  string `json:"leftId"`
		RightID string `json:"rightId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.LeftID == "" || req.RightID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "leftId and rightId are required"})
		return
	}

	start := time.Now()
	comparison, err := rt.analysis.CompareHands(r.Context(), req.LeftID, req.RightID)
	if rt.metrics != nil {
		rt.metrics.ObserveModelCall(serviceName, "compare", time.Since(start))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"comparison": comparison})
}

// acceptPalmImage builds the analyze request either from a multipart upload
// or from a JSON body naming an already-stored image. A false return means
// the response was already written.
func (rt *Router) acceptPalmImage(w http.ResponseWriter, r *http.Request) (domain.AnalyzeRequest, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req domain.AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return domain.AnalyzeRequest{}, false
		}
		return req, true
	}

	key, ok := rt.savePalmImage(w, r)
	if !ok {
		return domain.AnalyzeRequest{}, false
	}

	side, err := domain.ParseHandSide(r.FormValue("handSide"))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "analyze request", err))
		return domain.AnalyzeRequest{}, false
	}
	dominant, _ := strconv.ParseBool(r.FormValue("isDominant"))

	return domain.AnalyzeRequest{
		ImageURI:   key,
		HandSide:   side,
		IsDominant: dominant,
	}, true
}

func (rt *Router) savePalmImage(w http.ResponseWriter, r *http.Request) (string, bool) {
	maxBytes := int64(rt.cfg.MaxImageSizeKB) * 1024
	if maxBytes <= 0 {
		maxBytes = 2048 * 1024
	}
	if r.ContentLength > maxBytes+formOverheadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "image exceeds the size limit"})
		return "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverheadBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "image exceeds the size limit"})
			return "", false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'image' is required"})
		return "", false
	}
	defer file.Close()

	key := "palm_" + uuid.NewString() + imageExtension(header)
	if err := rt.images.Save(r.Context(), key, file); err != nil {
		writeError(w, err)
		return "", false
	}
	return key, true
}

// formOverheadBytes pads the body cap for multipart boundaries and fields.
const formOverheadBytes = 16 * 1024

func imageExtension(header *multipart.FileHeader) string {
	if ext := filepath.Ext(header.Filename); ext != "" {
		return ext
	}
	switch header.Header.Get("Content-Type") {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
