package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"churnintel/analytics"
	"churnintel/batch"
	"churnintel/ml"
	"churnintel/monitoring"
	"churnintel/pipeline"
)

const (
	rootMessage      = "Churn Prediction API Running"
	bulkDownloadName = "bulk_predictions.csv"
	defaultHistory   = 20
)

// Predictor is the in-process prediction pipeline.
type Predictor interface {
	Predict(ctx context.Context, raw ml.RawRecord) (ml.Result, error)
	CacheStats() ml.CacheStats
}

// BatchHistory stores summaries of finished batch runs.
type BatchHistory interface {
	SaveBatchRun(summary batch.Summary) error
	ListBatchRuns(limit int) ([]batch.Summary, error)
}

// EventHub pushes batch progress to websocket listeners.
type EventHub interface {
	Publish(kind monitoring.MessageType, data interface{})
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

type Handler struct {
	predictor    Predictor
	modelType    string
	legacyErrors bool
	maxRows      int
	history      BatchHistory
	hub          EventHub
	metrics      *monitoring.MetricsCollector
	logger       *zap.Logger
}

type HandlerOption func(*Handler)

// WithLegacyErrorStatus answers every /predict failure with 200 and an error
// body, for clients written against the old contract.
func WithLegacyErrorStatus(enabled bool) HandlerOption {
	return func(h *Handler) { h.legacyErrors = enabled }
}

func WithMaxRows(n int) HandlerOption {
	return func(h *Handler) { h.maxRows = n }
}

func WithHistory(history BatchHistory) HandlerOption {
	return func(h *Handler) { h.history = history }
}

func WithHub(hub EventHub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

func WithMetrics(metrics *monitoring.MetricsCollector) HandlerOption {
	return func(h *Handler) {
		if metrics != nil {
			h.metrics = metrics
		}
	}
}

func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(predictor Predictor, modelType string, opts ...HandlerOption) *Handler {
	h := &Handler{
		predictor: predictor,
		modelType: modelType,
		maxRows:   batch.DefaultMaxRows,
		metrics:   monitoring.NewMetricsCollector(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, rootMessage)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": h.modelType})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.predictError(w, err)
		return
	}
	raw, err := ml.ParseRecord(body)
	if err != nil {
		h.predictError(w, err)
		return
	}
	result, err := h.predictor.Predict(r.Context(), raw)
	if err != nil {
		h.predictError(w, err)
		return
	}

	h.metrics.ObservePrediction(time.Since(start))
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) predictError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var verr *ml.ValidationError
	switch {
	case errors.As(err, &verr):
		h.metrics.IncrCounter(monitoring.MetricValidationErrors, 1)
	case status >= http.StatusInternalServerError:
		h.metrics.IncrCounter(monitoring.MetricInferenceErrors, 1)
		h.logger.Error("prediction failed", zap.Error(err))
	}
	if h.legacyErrors {
		status = http.StatusOK
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var verr *ml.ValidationError
	var ierr *ml.InferenceError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &ierr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readUpload parses the multipart field "file" as a CSV table.
func readUpload(r *http.Request) (*pipeline.Table, string, int, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", http.StatusRequestEntityTooLarge, err
		}
		return nil, "", http.StatusBadRequest, errors.New("multipart field \"file\" is required")
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", "":
	default:
		return nil, name, http.StatusUnsupportedMediaType, errors.New("only CSV uploads are supported")
	}

	table, err := pipeline.ReadTable(file)
	if err != nil {
		return nil, name, http.StatusBadRequest, err
	}
	return table, name, http.StatusOK, nil
}

func (h *Handler) handleBulkPredict(w http.ResponseWriter, r *http.Request) {
	table, name, status, err := readUpload(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	h.publish(monitoring.BatchStarted, map[string]interface{}{"name": name, "rows": table.Len()})
	runner := batch.NewRunner(h.predictor,
		batch.WithMaxRows(h.maxRows),
		batch.WithLogger(h.logger),
		batch.WithProgress(func(p batch.Progress) { h.publish(monitoring.BatchProgress, p) }),
	)
	report, runErr := runner.Run(r.Context(), name, table)
	if report == nil {
		respondError(w, http.StatusBadRequest, runErr.Error())
		return
	}
	// A cancelled run still exports the rows predicted before it stopped.
	incomplete := runErr != nil
	if incomplete {
		h.logger.Warn("batch stopped early", zap.String("run_id", report.RunID), zap.Error(runErr))
		w.Header().Set("X-Batch-Incomplete", "true")
	}

	summary := report.Summary()
	h.metrics.IncrCounter(monitoring.MetricBatchRuns, 1)
	h.metrics.IncrCounter(monitoring.MetricBatchRows, int64(summary.Processed))
	h.metrics.IncrCounter(monitoring.MetricPredictions, int64(summary.Predicted))
	h.publish(monitoring.BatchFinished, summary)
	if h.history != nil {
		if err := h.history.SaveBatchRun(summary); err != nil {
			h.logger.Warn("save batch history failed", zap.String("run_id", summary.RunID), zap.Error(err))
		}
	}

	if r.URL.Query().Get("format") == "json" {
		highRisk := report.HighRisk()
		if highRisk == nil {
			highRisk = []int{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"summary":        summary,
			"incomplete":     incomplete,
			"high_risk_rows": highRisk,
			"outcomes":       report.Outcomes,
		})
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+bulkDownloadName+`"`)
	w.Header().Set("X-Batch-Run-Id", summary.RunID)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	table, _, status, err := readUpload(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	summary, err := analytics.Summarize(table)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if h.history == nil {
		respondJSON(w, http.StatusOK, []batch.Summary{})
		return
	}
	runs, err := h.history.ListBatchRuns(limit)
	if err != nil {
		h.logger.Error("list batch history failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "batch history unavailable")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, h.metrics.ExportPrometheus())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": h.metrics.Snapshot(),
		"cache":   h.predictor.CacheStats(),
	})
}

func (h *Handler) publish(kind monitoring.MessageType, data interface{}) {
	if h.hub != nil {
		h.hub.Publish(kind, data)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
