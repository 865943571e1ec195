package queryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/attrval"
	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/querysvc"
	"github.com/ollyscale/core/internal/store"
)

// fakeStore is an in-memory store.Store fixture for exercising the HTTP
// layer end to end without a live database, mirroring the fake used by
// exporter/pgstoreexporter's own tests.
type fakeStore struct {
	traces  []store.TraceSummary
	detail  store.TraceDetail
	spans   []store.Span
	logs    []store.LogRecord
	points  []store.MetricDataPoint
	svcs    []store.ServiceSummary
	svcMap  store.ServiceMap
	pingErr error
}

func (f *fakeStore) UpsertResource(ctx context.Context, attrs attrval.Map) (int64, error) { return 0, nil }
func (f *fakeStore) UpsertScope(ctx context.Context, name, version string, attrs attrval.Map) (int64, error) {
	return 0, nil
}
func (f *fakeStore) UpsertMetricDescriptor(ctx context.Context, d store.MetricDescriptor) (int64, error) {
	return 0, nil
}
func (f *fakeStore) WriteBatch(ctx context.Context, b store.WriteBatch) (store.WriteResult, error) {
	return store.WriteResult{}, nil
}
func (f *fakeStore) SearchTraces(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.TraceSummary], error) {
	return store.Page[store.TraceSummary]{Items: f.traces, Count: len(f.traces)}, nil
}
func (f *fakeStore) SearchSpans(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.Span], error) {
	return store.Page[store.Span]{Items: f.spans, Count: len(f.spans)}, nil
}
func (f *fakeStore) SearchLogs(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.LogRecord], error) {
	return store.Page[store.LogRecord]{Items: f.logs, Count: len(f.logs)}, nil
}
func (f *fakeStore) SearchMetrics(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.MetricDataPoint], error) {
	return store.Page[store.MetricDataPoint]{Items: f.points, Count: len(f.points)}, nil
}
func (f *fakeStore) GetTraceDetail(ctx context.Context, traceID [16]byte, w store.Window) (store.TraceDetail, error) {
	if len(f.detail.Spans) == 0 {
		return store.TraceDetail{}, ollyerr.NotFound("trace not found", nil)
	}
	return f.detail, nil
}
func (f *fakeStore) ListServices(ctx context.Context, w store.Window) ([]store.ServiceSummary, error) {
	return f.svcs, nil
}
func (f *fakeStore) BuildServiceMap(ctx context.Context, w store.Window) (store.ServiceMap, error) {
	return f.svcMap, nil
}
func (f *fakeStore) DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error) {
	return 0, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func newTestAPI(fs *fakeStore) *API {
	svc := querysvc.New(fs, querysvc.Config{Deadline: time.Second}, zap.NewNop())
	return New(svc, fs, zap.NewNop())
}

func TestHandleSearchTracesReturnsEnvelope(t *testing.T) {
	fs := &fakeStore{traces: []store.TraceSummary{{RootServiceName: "checkout", SpanCount: 3}}}
	api := newTestAPI(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/traces/search?start_time=0&end_time=100", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestHandleSearchTracesRejectsBadWindow(t *testing.T) {
	api := newTestAPI(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/traces/search?start_time=100&end_time=1", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTraceDetailReturnsSpans(t *testing.T) {
	var traceID [16]byte
	traceID[0] = 0xab
	detail := store.TraceDetail{TraceID: traceID, HasRoot: true, Spans: []store.Span{{Name: "root"}}}
	fs := &fakeStore{detail: detail}
	api := newTestAPI(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/traces/"+hexID(traceID[:]), nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["has_root"])
}

func TestHandleGetTraceDetailNotFoundMaps404(t *testing.T) {
	api := newTestAPI(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/traces/"+hexID(make([]byte, 16)), nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetTraceDetailRejectsMalformedTraceID(t *testing.T) {
	api := newTestAPI(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/traces/not-hex", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchSpansParsesBodyAndFilters(t *testing.T) {
	fs := &fakeStore{spans: []store.Span{{Name: "query-db"}}}
	api := newTestAPI(fs)

	body := `{"time_range":{"start_time":0,"end_time":100},"filters":[{"field":"service_name","op":"eq","value":"checkout"}],"pagination":{"limit":10}}`
	req := httptest.NewRequest(http.MethodPost, "/api/spans/search", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestHandleSearchSpansRejectsUnsupportedOperator(t *testing.T) {
	api := newTestAPI(&fakeStore{})
	body := `{"time_range":{"start_time":0,"end_time":100},"filters":[{"field":"x","op":"bogus","value":"y"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/spans/search", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListServicesReturnsItems(t *testing.T) {
	fs := &fakeStore{svcs: []store.ServiceSummary{{ServiceName: "checkout"}}}
	api := newTestAPI(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/services?start_time=0&end_time=100", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
}

func TestHandleServiceMapReturnsNodesAndEdges(t *testing.T) {
	fs := &fakeStore{svcMap: store.ServiceMap{
		Nodes: []store.ServiceMapNode{{ServiceName: "web"}},
		Edges: []store.ServiceMapEdge{{Caller: "web", Callee: "api", CallCount: 1}},
	}}
	api := newTestAPI(fs)

	body := `{"time_range":{"start_time":0,"end_time":100}}`
	req := httptest.NewRequest(http.MethodPost, "/api/service-map", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp serviceMapDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Edges, 1)
	assert.Equal(t, "web", resp.Edges[0].Caller)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	api := newTestAPI(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthDBReportsUnavailableOnPingFailure(t *testing.T) {
	api := newTestAPI(&fakeStore{pingErr: assertErr{}})
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }
