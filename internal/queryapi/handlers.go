package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

const defaultSearchLimit = 100

func (a *API) handleErr(w http.ResponseWriter, msg string, err error) {
	kind := ollyerr.As(err)
	a.writeError(w, kind.String(), kind.HTTPStatus(), msg, err)
}

// handleSearchTraces serves GET /api/traces/search (spec §6).
func (a *API) handleSearchTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseEventWindow(r)
	if err != nil {
		a.handleErr(w, "invalid window", err)
		return
	}

	var filters []store.Filter
	if svc := q.Get("service_name"); svc != "" {
		filters = append(filters, store.Filter{Field: "service_name", Op: store.OpEq, Value: svc})
	}
	if minDur := q.Get("min_duration_ns"); minDur != "" {
		filters = append(filters, store.Filter{Field: "duration_ns", Op: store.OpGte, Value: minDur})
	}

	paging := parsePaging(r, defaultSearchLimit)
	result, err := a.svc.SearchTraces(r.Context(), window, filters, paging)
	if err != nil {
		a.handleErr(w, "failed to search traces", err)
		return
	}

	f := timeFormatFromRequest(r)
	items := make([]traceSummaryDTO, 0, len(result.Items))
	for _, t := range result.Items {
		items = append(items, newTraceSummaryDTO(f, t))
	}
	a.writeJSON(w, http.StatusOK, page{Items: items, Count: result.Count, Limit: paging.Limit, Offset: paging.Offset, HasMore: result.HasMore, NextCursor: result.NextCursor})
}

// handleGetTraceDetail serves GET /api/traces/{trace_id}.
func (a *API) handleGetTraceDetail(w http.ResponseWriter, r *http.Request) {
	traceID, err := parseTraceID(mux.Vars(r)["trace_id"])
	if err != nil {
		a.handleErr(w, "invalid trace_id", err)
		return
	}

	window, err := parseEventWindow(r)
	if err != nil {
		a.handleErr(w, "invalid window", err)
		return
	}
	if window.EndUnixNanos == 0 {
		window.EndUnixNanos = time.Now().UnixNano()
	}

	detail, err := a.svc.GetTraceDetail(r.Context(), traceID, window)
	if err != nil {
		a.handleErr(w, "failed to load trace", err)
		return
	}

	f := timeFormatFromRequest(r)
	spans := make([]spanDTO, 0, len(detail.Spans))
	for _, s := range detail.Spans {
		spans = append(spans, newSpanDTO(f, s))
	}
	resp := map[string]interface{}{
		"trace_id": hexID(detail.TraceID[:]),
		"spans":    spans,
		"has_root": detail.HasRoot,
	}
	if detail.HasRoot {
		resp["root_span_id"] = hexID(detail.RootSpanID[:])
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleSearchSpans serves POST /api/spans/search.
func (a *API) handleSearchSpans(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.handleErr(w, "malformed request body", ollyerr.Invalid("malformed JSON", err))
		return
	}
	window, err := body.window()
	if err != nil {
		a.handleErr(w, "invalid time_range", err)
		return
	}
	filters, err := body.filters()
	if err != nil {
		a.handleErr(w, "invalid filters", err)
		return
	}
	paging := body.paging(defaultSearchLimit)

	result, err := a.svc.SearchSpans(r.Context(), window, filters, paging)
	if err != nil {
		a.handleErr(w, "failed to search spans", err)
		return
	}

	f := timeFormatFromRequest(r)
	items := make([]spanDTO, 0, len(result.Items))
	for _, s := range result.Items {
		items = append(items, newSpanDTO(f, s))
	}
	a.writeJSON(w, http.StatusOK, page{Items: items, Count: result.Count, Limit: paging.Limit, Offset: paging.Offset, HasMore: result.HasMore, NextCursor: result.NextCursor})
}

// handleSearchLogs serves GET /api/logs/search.
func (a *API) handleSearchLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseEventWindow(r)
	if err != nil {
		a.handleErr(w, "invalid window", err)
		return
	}

	var filters []store.Filter
	if sevMin := q.Get("severity_min"); sevMin != "" {
		filters = append(filters, store.Filter{Field: "severity_number", Op: store.OpGte, Value: sevMin})
	}
	if traceID := q.Get("trace_id"); traceID != "" {
		filters = append(filters, store.Filter{Field: "trace_id", Op: store.OpEq, Value: traceID})
	}
	if svc := q.Get("service_name"); svc != "" {
		filters = append(filters, store.Filter{Field: "service_name", Op: store.OpEq, Value: svc})
	}

	paging := parsePaging(r, defaultSearchLimit)
	result, err := a.svc.SearchLogs(r.Context(), window, filters, paging)
	if err != nil {
		a.handleErr(w, "failed to search logs", err)
		return
	}

	f := timeFormatFromRequest(r)
	items := make([]logRecordDTO, 0, len(result.Items))
	for _, l := range result.Items {
		items = append(items, newLogRecordDTO(f, l))
	}
	a.writeJSON(w, http.StatusOK, page{Items: items, Count: result.Count, Limit: paging.Limit, Offset: paging.Offset, HasMore: result.HasMore, NextCursor: result.NextCursor})
}

// handleSearchMetrics serves GET /api/metrics/search.
func (a *API) handleSearchMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseEventWindow(r)
	if err != nil {
		a.handleErr(w, "invalid window", err)
		return
	}

	var filters []store.Filter
	if svc := q.Get("service_name"); svc != "" {
		filters = append(filters, store.Filter{Field: "service_name", Op: store.OpEq, Value: svc})
	}

	limit, _ := parseIntQuery(r, "limit", defaultSearchLimit)
	paging := store.Paging{Limit: clampLimit(limit, defaultSearchLimit)}

	result, err := a.svc.SearchMetrics(r.Context(), window, filters, paging)
	if err != nil {
		a.handleErr(w, "failed to search metrics", err)
		return
	}

	f := timeFormatFromRequest(r)
	items := make([]metricDataPointDTO, 0, len(result.Items))
	for _, p := range result.Items {
		items = append(items, newMetricDataPointDTO(f, p))
	}
	a.writeJSON(w, http.StatusOK, page{Items: items, Count: result.Count, Limit: paging.Limit, Offset: paging.Offset, HasMore: result.HasMore, NextCursor: result.NextCursor})
}

// handleListServices serves GET /api/services.
func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	window, err := parseEventWindow(r)
	if err != nil {
		a.handleErr(w, "invalid window", err)
		return
	}
	services, err := a.svc.ListServices(r.Context(), window)
	if err != nil {
		a.handleErr(w, "failed to list services", err)
		return
	}
	items := make([]serviceSummaryDTO, 0, len(services))
	for _, s := range services {
		items = append(items, newServiceSummaryDTO(s))
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

// handleServiceMap serves POST /api/service-map.
func (a *API) handleServiceMap(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.handleErr(w, "malformed request body", ollyerr.Invalid("malformed JSON", err))
		return
	}
	window, err := body.window()
	if err != nil {
		a.handleErr(w, "invalid time_range", err)
		return
	}

	sm, err := a.svc.BuildServiceMap(r.Context(), window)
	if err != nil {
		a.handleErr(w, "failed to build service map", err)
		return
	}
	a.writeJSON(w, http.StatusOK, newServiceMapDTO(sm))
}

// handleStatus serves the supplemented GET /api/status landing-page summary
// (SPEC_FULL.md "SUPPLEMENTED FEATURES"), mirroring the teacher's
// handleStatus surface reuse.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UnixNano()
	window := store.Window{StartUnixNanos: now - int64(time.Hour), EndUnixNanos: now, Field: store.TimeFieldIngest}
	services, err := a.svc.ListServices(r.Context(), window)
	if err != nil {
		a.handleErr(w, "failed to load status", err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"service_count": len(services)})
}

// handleHealth serves GET /health: process liveness, no dependency checks.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthDB serves GET /health/db: liveness of the storage backend.
func (a *API) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.Ping(ctx); err != nil {
		a.handleErr(w, "database unreachable", ollyerr.Unavailable("database unreachable", err))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
