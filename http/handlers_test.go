package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnintel/batch"
	"churnintel/ml"
	"churnintel/monitoring"
)

const validBody = `{"age":30,"gender":"M","income_numeric":2,"tenure":5,"sub_plan":"standard","contract":"monthly","monthly_charge":100,"auto_renewal":1,"late_payment":0,"failed_transaction":0}`

const csvHeader = "age,gender,income_numeric,tenure,sub_plan,contract,monthly_charge,auto_renewal,late_payment,failed_transaction"

// fakePredictor validates like the real pipeline, then answers from its
// fields. Records aged 99 fail with an inference error.
type fakePredictor struct {
	result ml.Result
	err    error
	panic  bool
}

func (f *fakePredictor) Predict(ctx context.Context, raw ml.RawRecord) (ml.Result, error) {
	if f.panic {
		panic("boom")
	}
	record, err := raw.Validate()
	if err != nil {
		return ml.Result{}, err
	}
	if record.Age == 99 {
		return ml.Result{}, &ml.InferenceError{Err: errors.New("model exploded")}
	}
	return f.result, f.err
}

func (f *fakePredictor) CacheStats() ml.CacheStats { return ml.CacheStats{} }

type memoryHistory struct {
	mu   sync.Mutex
	runs []batch.Summary
}

func (m *memoryHistory) SaveBatchRun(s batch.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append([]batch.Summary{s}, m.runs...)
	return nil
}

func (m *memoryHistory) ListBatchRuns(limit int) ([]batch.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

type recordingHub struct {
	mu    sync.Mutex
	kinds []monitoring.MessageType
}

func (r *recordingHub) Publish(kind monitoring.MessageType, data interface{}) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func (r *recordingHub) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func newTestRouter(p Predictor, opts ...HandlerOption) http.Handler {
	config := DefaultServerConfig()
	config.MaxBodyBytes = 64 << 10
	return NewRouter(config, NewHandler(p, ml.ModelTypeLogistic, opts...))
}

func do(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func upload(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}

func TestRootAndHealth(t *testing.T) {
	router := newTestRouter(&fakePredictor{})

	rr := do(t, router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Churn Prediction API Running", rr.Body.String())

	rr = do(t, router, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","model":"logistic"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestPredictSuccess(t *testing.T) {
	router := newTestRouter(&fakePredictor{result: ml.Result{Prediction: 1, Probability: 0.73}})
	rr := do(t, router, postJSON(validBody))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"prediction":1,"probability":0.73}`, rr.Body.String())
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		substr string
	}{
		{"missing tenure", strings.Replace(validBody, `"tenure":5,`, "", 1), http.StatusBadRequest, "tenure is required"},
		{"derived field", strings.Replace(validBody, `}`, `,"charge_per_tenure":3}`, 1), http.StatusBadRequest, "charge_per_tenure"},
		{"malformed", `{"age":`, http.StatusBadRequest, "invalid record"},
		{"empty", ``, http.StatusBadRequest, "empty"},
		{"bad gender", strings.Replace(validBody, `"M"`, `"X"`, 1), http.StatusBadRequest, "gender"},
		{"inference failure", strings.Replace(validBody, `"age":30`, `"age":99`, 1), http.StatusInternalServerError, "inference failed"},
		{"too large", `{"age":"` + strings.Repeat("9", 70<<10) + `"}`, http.StatusRequestEntityTooLarge, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestRouter(&fakePredictor{}), postJSON(tt.body))
			assert.Equal(t, tt.status, rr.Code)
			payload := decodeMap(t, rr)
			require.Len(t, payload, 1, "error body carries only the error key")
			assert.Contains(t, payload["error"], tt.substr)
		})
	}
}

func TestPredictLegacyErrorStatus(t *testing.T) {
	router := newTestRouter(&fakePredictor{}, WithLegacyErrorStatus(true))
	rr := do(t, router, postJSON(strings.Replace(validBody, `"tenure":5,`, "", 1)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeMap(t, rr)["error"], "tenure")
}

func TestPredictPanicIsRecovered(t *testing.T) {
	rr := do(t, newTestRouter(&fakePredictor{panic: true}), postJSON(validBody))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", decodeMap(t, rr)["error"])
}

func TestPredictWithRealModel(t *testing.T) {
	model, err := ml.LoadModel(ml.ModelTypeLogistic, "../models/churn_model.json")
	require.NoError(t, err)
	predictor, err := ml.NewPredictor(model, ml.WithCache(16))
	require.NoError(t, err)
	router := newTestRouter(predictor)

	first := do(t, router, postJSON(validBody))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	var wg sync.WaitGroup
	bodies := make([]string, 16)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, postJSON(validBody))
			bodies[i] = rr.Body.String()
		}(i)
	}
	wg.Wait()
	for _, body := range bodies {
		assert.Equal(t, first.Body.String(), body)
	}

	var result ml.Result
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &result))
	assert.Equal(t, result.Probability >= 0.5, result.Prediction == 1)
}

func TestBulkPredictCSV(t *testing.T) {
	history := &memoryHistory{}
	hub := &recordingHub{}
	metrics := monitoring.NewMetricsCollector()
	router := newTestRouter(&fakePredictor{result: ml.Result{Prediction: 1, Probability: 0.9}},
		WithHistory(history), WithHub(hub), WithMetrics(metrics))

	content := csvHeader + "\n" +
		"30,M,2,5,standard,monthly,100,1,0,0\n" +
		"99,F,1,2,basic,monthly,50,0,1,1\n" +
		"41,F,3,24,premium,annual,80,1,0,0\n"
	rr := do(t, router, upload(t, "/api/predict/bulk", "customers.csv", content))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "bulk_predictions.csv")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasSuffix(lines[0], ",churn_prediction"))
	assert.True(t, strings.HasSuffix(lines[1], ",1"))
	assert.True(t, strings.HasSuffix(lines[2], ","))
	assert.True(t, strings.HasSuffix(lines[3], ",1"))

	require.Len(t, history.runs, 1)
	assert.Equal(t, 1, history.runs[0].Failed)
	assert.Equal(t, rr.Header().Get("X-Batch-Run-Id"), history.runs[0].RunID)

	assert.Empty(t, rr.Header().Get("X-Batch-Incomplete"))
	assert.Equal(t, monitoring.BatchStarted, hub.kinds[0])
	assert.Equal(t, monitoring.BatchFinished, hub.kinds[len(hub.kinds)-1])
	assert.Len(t, hub.kinds, 5)

	assert.EqualValues(t, 2, metrics.Counter(monitoring.MetricPredictions))
	assert.EqualValues(t, 3, metrics.Counter(monitoring.MetricBatchRows))
}

// cancellingPredictor cancels the request after its first prediction.
type cancellingPredictor struct {
	fakePredictor
	cancel context.CancelFunc
}

func (c *cancellingPredictor) Predict(ctx context.Context, raw ml.RawRecord) (ml.Result, error) {
	defer c.cancel()
	return c.fakePredictor.Predict(ctx, raw)
}

func TestBulkPredictExportsPartialRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	history := &memoryHistory{}
	predictor := &cancellingPredictor{fakePredictor: fakePredictor{result: ml.Result{Prediction: 0, Probability: 0.2}}, cancel: cancel}
	router := newTestRouter(predictor, WithHistory(history))

	content := csvHeader + "\n" +
		"30,M,2,5,standard,monthly,100,1,0,0\n" +
		"31,M,2,5,standard,monthly,100,1,0,0\n" +
		"32,M,2,5,standard,monthly,100,1,0,0\n"
	req := upload(t, "/api/predict/bulk", "customers.csv", content).WithContext(ctx)
	rr := do(t, router, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "true", rr.Header().Get("X-Batch-Incomplete"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasSuffix(lines[1], ",0"))
	assert.True(t, strings.HasSuffix(lines[2], ","))
	assert.True(t, strings.HasSuffix(lines[3], ","))

	require.Len(t, history.runs, 1)
	assert.Equal(t, 1, history.runs[0].Processed)
}

func TestMetricsCountCacheHits(t *testing.T) {
	model, err := ml.LoadModel(ml.ModelTypeLogistic, "../models/churn_model.json")
	require.NoError(t, err)
	metrics := monitoring.NewMetricsCollector()
	predictor, err := ml.NewPredictor(model,
		ml.WithCache(4),
		ml.WithCacheHitHook(func() { metrics.IncrCounter(monitoring.MetricCacheHits, 1) }),
	)
	require.NoError(t, err)
	router := newTestRouter(predictor, WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(t, router, postJSON(validBody)).Code)
	}
	assert.EqualValues(t, 2, metrics.Counter(monitoring.MetricCacheHits))
	assert.EqualValues(t, 3, metrics.Counter(monitoring.MetricPredictions))

	rr := do(t, router, httptest.NewRequest(http.MethodGet, "/api/metrics?format=prometheus", nil))
	assert.Contains(t, rr.Body.String(), "churn_cache_hits_total 2")
}

func TestBulkPredictJSON(t *testing.T) {
	router := newTestRouter(&fakePredictor{result: ml.Result{Prediction: 0, Probability: 0.1}}, WithMaxRows(1))
	content := csvHeader + "\n30,M,2,5,standard,monthly,100,1,0,0\n31,M,2,5,standard,monthly,100,1,0,0\n"
	rr := do(t, router, upload(t, "/api/predict/bulk?format=json", "c.csv", content))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	payload := decodeMap(t, rr)
	summary := payload["summary"].(map[string]interface{})
	assert.EqualValues(t, 2, summary["total_rows"])
	assert.EqualValues(t, 1, summary["processed"])
	assert.EqualValues(t, 1, summary["low_risk"])
	assert.Equal(t, []interface{}{}, payload["high_risk_rows"])
}

func TestBulkPredictRejectsBadUploads(t *testing.T) {
	router := newTestRouter(&fakePredictor{})

	rr := do(t, router, httptest.NewRequest(http.MethodPost, "/api/predict/bulk", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, upload(t, "/api/predict/bulk", "c.csv", "age,gender\n30,M\n"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeMap(t, rr)["error"], "missing required columns")

	rr = do(t, router, upload(t, "/api/predict/bulk", "c.xlsx", "PK"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	router := newTestRouter(&fakePredictor{})
	rr := do(t, router, upload(t, "/api/analytics", "labelled.csv", "tenure,monthly_charge,default\n1,10,1\n5,50,0\n"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	payload := decodeMap(t, rr)
	assert.EqualValues(t, 2, payload["total_customers"])
	assert.EqualValues(t, 50, payload["churn_rate"])

	rr = do(t, router, upload(t, "/api/analytics", "unlabelled.csv", "tenure,monthly_charge\n1,10\n"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBatchesEndpoint(t *testing.T) {
	now := time.Now().UTC()
	history := &memoryHistory{runs: []batch.Summary{
		{RunID: "b", StartedAt: now, FinishedAt: now},
		{RunID: "a", StartedAt: now, FinishedAt: now},
	}}
	rr := do(t, newTestRouter(&fakePredictor{}, WithHistory(history)), httptest.NewRequest(http.MethodGet, "/api/batches?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []batch.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].RunID)

	rr = do(t, newTestRouter(&fakePredictor{}), httptest.NewRequest(http.MethodGet, "/api/batches", nil))
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	router := newTestRouter(&fakePredictor{}, WithMetrics(metrics))
	do(t, router, postJSON(validBody))
	do(t, router, postJSON(`{}`))

	assert.EqualValues(t, 1, metrics.Counter(monitoring.MetricPredictions))
	assert.EqualValues(t, 1, metrics.Counter(monitoring.MetricValidationErrors))

	rr := do(t, router, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decodeMap(t, rr)
	assert.Contains(t, payload, "metrics")
	assert.Contains(t, payload, "cache")

	rr = do(t, router, httptest.NewRequest(http.MethodGet, "/api/metrics?format=prometheus", nil))
	assert.Contains(t, rr.Body.String(), "churn_predictions_total 1")
}

func TestWebSocketRouteBypassesTimeout(t *testing.T) {
	rr := do(t, newTestRouter(&fakePredictor{}, WithHub(&recordingHub{})), httptest.NewRequest(http.MethodGet, "/api/ws/batch", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
