// Package store defines the canonical data model (spec §3) and the typed
// Store contract (spec §4.A) that the ingest pipeline and query engine build
// on. Concrete implementations live in subpackages (postgres).
package store

import (
	"context"
	"time"

	"github.com/ollyscale/core/internal/attrval"
)

// SpanKind mirrors OTLP's span kind enum.
type SpanKind int32

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// StatusCode mirrors OTLP's span status code enum.
type StatusCode int32

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// MetricKind enumerates the supported metric shapes (spec §3 MetricDescriptor).
type MetricKind int32

const (
	MetricKindGauge MetricKind = iota
	MetricKindSum
	MetricKindHistogram
	MetricKindExponentialHistogram
	MetricKindSummary
)

// Temporality mirrors OTLP's aggregation temporality enum.
type Temporality int32

const (
	TemporalityUnspecified Temporality = iota
	TemporalityDelta
	TemporalityCumulative
)

// Resource is a deduplicated dimension row: the entity producing telemetry.
type Resource struct {
	ID         int64
	Attributes attrval.Map
}

// Scope is a deduplicated dimension row: OTLP instrumentation scope identity.
type Scope struct {
	ID         int64
	Name       string
	Version    string
	Attributes attrval.Map
}

// MetricDescriptor is a deduplicated dimension row describing a metric's
// identity and shape, independent of any particular data point.
type MetricDescriptor struct {
	ID          int64
	Name        string
	Kind        MetricKind
	Unit        string
	Temporality Temporality
	Monotonic   bool
}

// Service is the derived (service.name, service.namespace) view maintained
// by the ingest path.
type Service struct {
	Name      string
	Namespace string
	FirstSeen time.Time
	LastSeen  time.Time
}

// SpanEvent is a timed annotation attached to a span.
type SpanEvent struct {
	Name           string
	TimeUnixNanos  int64
	Attributes     attrval.Map
	DroppedAttrs   uint32
}

// SpanLink references another span, possibly in a different trace.
type SpanLink struct {
	TraceID      [16]byte
	SpanID       [8]byte
	TraceState   string
	Attributes   attrval.Map
	DroppedAttrs uint32
}

// SpanStatus is a span's terminal status.
type SpanStatus struct {
	Code    StatusCode
	Message string
}

// Span is a fact row: one unit of work in a trace.
type Span struct {
	TraceID         [16]byte
	SpanID          [8]byte
	ParentSpanID    [8]byte
	HasParent       bool
	Name            string
	Kind            SpanKind
	StartUnixNanos  int64
	EndUnixNanos    int64
	Status          SpanStatus
	ResourceID      int64
	ScopeID         int64
	Attributes      attrval.Map
	Events          []SpanEvent
	Links           []SpanLink
	IngestUnixNanos int64 // database time, §4.C "three selectable timestamps"
}

// DurationNanos returns EndUnixNanos - StartUnixNanos, derived rather than
// stored (spec §3 invariant 3).
func (s Span) DurationNanos() int64 {
	if s.EndUnixNanos < s.StartUnixNanos {
		return 0
	}
	return s.EndUnixNanos - s.StartUnixNanos
}

// IsRootCandidate reports whether a span is a candidate root of its trace
// (spec §3 invariant 5): no parent, and kind in {Server, Consumer, Internal}.
func (s Span) IsRootCandidate() bool {
	if s.HasParent {
		return false
	}
	switch s.Kind {
	case SpanKindServer, SpanKindConsumer, SpanKindInternal:
		return true
	default:
		return false
	}
}

// LogRecord is a fact row: one structured or unstructured log event.
type LogRecord struct {
	TimestampUnixNanos         int64
	ObservedTimestampUnixNanos int64
	SeverityNumber             int32
	SeverityText               string
	Body                       attrval.Value
	TraceID                    [16]byte
	SpanID                     [8]byte
	HasTraceContext            bool
	ResourceID                 int64
	ScopeID                    int64
	Attributes                 attrval.Map
	IngestUnixNanos            int64
}

// HistogramPoint is the payload variant for MetricKindHistogram.
type HistogramPoint struct {
	Count  uint64
	Sum    float64
	Bounds []float64
	Counts []uint64
}

// ExponentialHistogramPoint is the payload variant for
// MetricKindExponentialHistogram.
type ExponentialHistogramPoint struct {
	Scale           int32
	ZeroCount       uint64
	PositiveOffset  int32
	PositiveBuckets []uint64
	NegativeOffset  int32
	NegativeBuckets []uint64
}

// SummaryQuantile is one (quantile, value) pair of a Summary point.
type SummaryQuantile struct {
	Quantile float64
	Value    float64
}

// SummaryPoint is the payload variant for MetricKindSummary.
type SummaryPoint struct {
	Count     uint64
	Sum       float64
	Quantiles []SummaryQuantile
}

// MetricDataPoint is a fact row: one sample of a metric time series.
type MetricDataPoint struct {
	DescriptorID      int64
	ResourceID        int64
	ScopeID           int64
	TimeUnixNanos     int64
	StartTimeUnixNanos int64
	Attributes        attrval.Map

	// Exactly one of these is populated, matching Descriptor.Kind.
	GaugeOrSumValue  float64
	Histogram        *HistogramPoint
	ExpHistogram     *ExponentialHistogramPoint
	Summary          *SummaryPoint
	Exemplars        []MetricExemplar // open question #1: storage-only

	IngestUnixNanos int64
}

// MetricExemplar is an optional sample-level trace correlation attached to a
// data point. See SPEC_FULL.md open question #1: preserved for storage, not
// required by any query.
type MetricExemplar struct {
	TimeUnixNanos int64
	Value         float64
	TraceID       [16]byte
	SpanID        [8]byte
	HasTraceCtx   bool
	Attributes    attrval.Map
}

// TimeField selects which of the three timestamps (spec §4.C) participates
// in a window predicate.
type TimeField int

const (
	TimeFieldEvent TimeField = iota
	TimeFieldIngest
	TimeFieldObserved
)

// Window bounds a query by one of the three time fields.
type Window struct {
	StartUnixNanos int64
	EndUnixNanos   int64
	Field          TimeField
}

// Contains reports whether ns falls within the window, inclusive of both
// bounds.
func (w Window) Contains(ns int64) bool {
	return ns >= w.StartUnixNanos && ns <= w.EndUnixNanos
}

// FilterOp enumerates the supported filter predicate operators (spec §4.C).
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpContains FilterOp = "contains"
	OpRegex    FilterOp = "regex"
)

// Filter is one AND-composed predicate over a fixed field schema.
type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// Paging carries either an offset or an opaque cursor, never both
// meaningfully at once; Cursor takes precedence when set.
type Paging struct {
	Limit  int
	Offset int
	Cursor string
}

// Page is a generic result envelope matching spec §6's response shape.
type Page[T any] struct {
	Items      []T
	Count      int
	HasMore    bool
	NextCursor string
}

// WriteBatch is the unit of atomic persistence handed to Store.WriteBatch.
// Dimension references (ResourceID/ScopeID/DescriptorID on each fact) must
// already be resolved by the caller via UpsertResource/UpsertScope/
// UpsertMetricDescriptor — spec §4.B's pipeline stage 3 ("Resolve
// dimensions") runs before stage 5 ("Persist"), and the dimension cache
// already gives cross-process-consistent ids without needing a shared
// transaction.
type WriteBatch struct {
	Spans  []Span
	Logs   []LogRecord
	Points []MetricDataPoint
}

// WriteResult reports how many facts of each kind were newly persisted vs.
// skipped as duplicates (spec §3 invariant 6, idempotent ingestion).
type WriteResult struct {
	SpansWritten   int
	SpansDuped     int
	LogsWritten    int
	LogsDuped      int
	PointsWritten  int
	PointsDuped    int
}

// Store is the typed contract every ingest and query component depends on.
// Implementations must return ollyerr-typed errors (§7).
type Store interface {
	UpsertResource(ctx context.Context, attrs attrval.Map) (int64, error)
	UpsertScope(ctx context.Context, name, version string, attrs attrval.Map) (int64, error)
	UpsertMetricDescriptor(ctx context.Context, d MetricDescriptor) (int64, error)

	WriteBatch(ctx context.Context, b WriteBatch) (WriteResult, error)

	SearchTraces(ctx context.Context, w Window, filters []Filter, p Paging) (Page[TraceSummary], error)
	SearchSpans(ctx context.Context, w Window, filters []Filter, p Paging) (Page[Span], error)
	SearchLogs(ctx context.Context, w Window, filters []Filter, p Paging) (Page[LogRecord], error)
	SearchMetrics(ctx context.Context, w Window, filters []Filter, p Paging) (Page[MetricDataPoint], error)

	GetTraceDetail(ctx context.Context, traceID [16]byte, w Window) (TraceDetail, error)
	ListServices(ctx context.Context, w Window) ([]ServiceSummary, error)
	BuildServiceMap(ctx context.Context, w Window) (ServiceMap, error)

	// DeleteOlderThan enforces the retention horizon (spec §3 invariant 7).
	DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error)
}

// TraceSummary is a lightweight trace description for search results.
type TraceSummary struct {
	TraceID         [16]byte
	RootServiceName string
	RootSpanName    string
	StartUnixNanos  int64
	DurationMs      int64
	SpanCount       int
	HasError        bool
}

// TraceDetail is the full response for GetTraceDetail: every span in or near
// the window, plus the chosen root.
type TraceDetail struct {
	TraceID    [16]byte
	Spans      []Span
	RootSpanID [8]byte
	HasRoot    bool
}

// ServiceSummary is one row of the service catalog (spec §4.C).
type ServiceSummary struct {
	ServiceName string
	RequestCount int64
	ErrorCount   int64
	ErrorRate    float64
	P50Ms        float64
	P95Ms        float64
	P99Ms        float64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// ServiceMapNode is one node of the derived service dependency graph.
type ServiceMapNode struct {
	ServiceName  string
	RequestCount int64
	ErrorCount   int64
	P50Ms        float64
	P95Ms        float64
	P99Ms        float64
}

// ServiceMapEdge is one caller->callee edge (spec §4.A "Service-map derivation").
type ServiceMapEdge struct {
	Caller      string
	Callee      string
	CallCount   int64
	ErrorCount  int64
	AvgLatencyMs float64
}

// ServiceMap is the full service dependency graph for a window.
type ServiceMap struct {
	Nodes []ServiceMapNode
	Edges []ServiceMapEdge
}
