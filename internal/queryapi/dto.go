package queryapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/ollyscale/core/internal/store"
)

// timeFormat selects how timestamps are rendered on the wire (spec §6:
// "nanoseconds since Unix epoch (integers) on the v2 surface; RFC3339
// strings on the legacy surface, which callers may request via header").
type timeFormat int

const (
	timeFormatNanos timeFormat = iota
	timeFormatRFC3339
)

// legacyTimeFormatHeader is the header legacy callers set to request
// RFC3339 timestamps instead of the v2 default of integer nanoseconds.
const legacyTimeFormatHeader = "X-Time-Format"

func timeFormatFromRequest(r *http.Request) timeFormat {
	if r.Header.Get(legacyTimeFormatHeader) == "rfc3339" {
		return timeFormatRFC3339
	}
	return timeFormatNanos
}

// wireTime renders a nanosecond timestamp per the requested format. Using
// interface{} lets a single response struct field hold either an int64 or a
// string without two parallel DTO shapes per type (spec §9's protocol-
// neutral-DTO design note, applied to the read side too).
func wireTime(f timeFormat, unixNanos int64) interface{} {
	if f == timeFormatRFC3339 {
		return time.Unix(0, unixNanos).UTC().Format(time.RFC3339Nano)
	}
	return unixNanos
}

func hexID(b []byte) string { return hex.EncodeToString(b) }

// traceSummaryDTO is the wire shape for one /api/traces/search result.
type traceSummaryDTO struct {
	TraceID         string      `json:"trace_id"`
	RootServiceName string      `json:"root_service_name"`
	RootSpanName    string      `json:"root_span_name"`
	StartTime       interface{} `json:"start_time"`
	DurationMs      int64       `json:"duration_ms"`
	SpanCount       int         `json:"span_count"`
	HasError        bool        `json:"has_error"`
}

func newTraceSummaryDTO(f timeFormat, t store.TraceSummary) traceSummaryDTO {
	return traceSummaryDTO{
		TraceID:         hexID(t.TraceID[:]),
		RootServiceName: t.RootServiceName,
		RootSpanName:    t.RootSpanName,
		StartTime:       wireTime(f, t.StartUnixNanos),
		DurationMs:      t.DurationMs,
		SpanCount:       t.SpanCount,
		HasError:        t.HasError,
	}
}

// spanDTO is the wire shape for a single span, used both in /api/spans/search
// results and /api/traces/{trace_id}'s span list.
type spanDTO struct {
	TraceID      string      `json:"trace_id"`
	SpanID       string      `json:"span_id"`
	ParentSpanID string      `json:"parent_span_id,omitempty"`
	Name         string      `json:"name"`
	Kind         int32       `json:"kind"`
	StartTime    interface{} `json:"start_time"`
	EndTime      interface{} `json:"end_time"`
	DurationMs   float64     `json:"duration_ms"`
	StatusCode   int32       `json:"status_code"`
	StatusMsg    string      `json:"status_message,omitempty"`
	Attributes   interface{} `json:"attributes"`
}

func newSpanDTO(f timeFormat, s store.Span) spanDTO {
	dto := spanDTO{
		TraceID:    hexID(s.TraceID[:]),
		SpanID:     hexID(s.SpanID[:]),
		Name:       s.Name,
		Kind:       int32(s.Kind),
		StartTime:  wireTime(f, s.StartUnixNanos),
		EndTime:    wireTime(f, s.EndUnixNanos),
		DurationMs: float64(s.DurationNanos()) / float64(time.Millisecond),
		StatusCode: int32(s.Status.Code),
		StatusMsg:  s.Status.Message,
		Attributes: s.Attributes,
	}
	if s.HasParent {
		dto.ParentSpanID = hexID(s.ParentSpanID[:])
	}
	return dto
}

// logRecordDTO is the wire shape for a single log record.
type logRecordDTO struct {
	Timestamp      interface{} `json:"timestamp"`
	SeverityNumber int32       `json:"severity_number"`
	SeverityText   string      `json:"severity_text,omitempty"`
	Body           interface{} `json:"body"`
	TraceID        string      `json:"trace_id,omitempty"`
	SpanID         string      `json:"span_id,omitempty"`
	Attributes     interface{} `json:"attributes"`
}

func newLogRecordDTO(f timeFormat, l store.LogRecord) logRecordDTO {
	dto := logRecordDTO{
		Timestamp:      wireTime(f, l.TimestampUnixNanos),
		SeverityNumber: l.SeverityNumber,
		SeverityText:   l.SeverityText,
		Body:           l.Body,
		Attributes:     l.Attributes,
	}
	if l.HasTraceContext {
		dto.TraceID = hexID(l.TraceID[:])
		dto.SpanID = hexID(l.SpanID[:])
	}
	return dto
}

// metricDataPointDTO is the wire shape for a single metric sample.
type metricDataPointDTO struct {
	Timestamp  interface{}          `json:"timestamp"`
	Value      *float64             `json:"value,omitempty"`
	Histogram  *store.HistogramPoint `json:"histogram,omitempty"`
	Summary    *store.SummaryPoint   `json:"summary,omitempty"`
	Attributes interface{}           `json:"attributes"`
}

func newMetricDataPointDTO(f timeFormat, p store.MetricDataPoint) metricDataPointDTO {
	dto := metricDataPointDTO{
		Timestamp:  wireTime(f, p.TimeUnixNanos),
		Histogram:  p.Histogram,
		Summary:    p.Summary,
		Attributes: p.Attributes,
	}
	if p.Histogram == nil && p.ExpHistogram == nil && p.Summary == nil {
		v := p.GaugeOrSumValue
		dto.Value = &v
	}
	return dto
}

// serviceSummaryDTO is the wire shape for one /api/services entry.
type serviceSummaryDTO struct {
	ServiceName  string  `json:"service_name"`
	RequestCount int64   `json:"request_count"`
	ErrorCount   int64   `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
	FirstSeen    string  `json:"first_seen"`
	LastSeen     string  `json:"last_seen"`
}

func newServiceSummaryDTO(s store.ServiceSummary) serviceSummaryDTO {
	return serviceSummaryDTO{
		ServiceName:  s.ServiceName,
		RequestCount: s.RequestCount,
		ErrorCount:   s.ErrorCount,
		ErrorRate:    s.ErrorRate,
		P50Ms:        s.P50Ms,
		P95Ms:        s.P95Ms,
		P99Ms:        s.P99Ms,
		FirstSeen:    s.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:     s.LastSeen.UTC().Format(time.RFC3339),
	}
}

// serviceMapDTO is the wire shape for /api/service-map.
type serviceMapDTO struct {
	Nodes []store.ServiceMapNode `json:"nodes"`
	Edges []store.ServiceMapEdge `json:"edges"`
}

func newServiceMapDTO(sm store.ServiceMap) serviceMapDTO {
	return serviceMapDTO{Nodes: sm.Nodes, Edges: sm.Edges}
}

// page is the uniform list envelope (spec §6 "Response envelopes").
type page struct {
	Items      interface{} `json:"items"`
	Count      int         `json:"count"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
	NextCursor string      `json:"next_cursor,omitempty"`
}
