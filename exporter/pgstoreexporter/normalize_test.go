package pgstoreexporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/ollyscale/core/internal/store"
)

func TestConvertAttrsHandlesMixedTypesAndTruncates(t *testing.T) {
	m := pcommon.NewMap()
	m.PutStr("http.method", "GET")
	m.PutInt("http.status_code", 200)
	m.PutStr("description", "a very long value that should be truncated down")

	attrs := convertAttrs(m, 10)
	assert.Equal(t, "GET", attrs["http.method"].Str)
	assert.Equal(t, int64(200), attrs["http.status_code"].Int)
	assert.LessOrEqual(t, len(attrs["description"].Str), 10)
}

func TestNormalizeSpanRejectsZeroTraceID(t *testing.T) {
	sp := ptrace.NewSpan()
	sp.SetSpanID(pcommon.SpanID([8]byte{1}))
	sp.SetName("op")

	_, err := normalizeSpan(sp, 1, 1, 4096, 0)
	require.Error(t, err)
}

func TestNormalizeSpanRejectsZeroSpanID(t *testing.T) {
	sp := ptrace.NewSpan()
	sp.SetTraceID(pcommon.TraceID([16]byte{1}))
	sp.SetName("op")

	_, err := normalizeSpan(sp, 1, 1, 4096, 0)
	require.Error(t, err)
}

func TestNormalizeSpanMapsFieldsAndParent(t *testing.T) {
	sp := ptrace.NewSpan()
	sp.SetTraceID(pcommon.TraceID([16]byte{1, 2}))
	sp.SetSpanID(pcommon.SpanID([8]byte{3, 4}))
	sp.SetParentSpanID(pcommon.SpanID([8]byte{5, 6}))
	sp.SetName("handle-request")
	sp.SetKind(ptrace.SpanKindServer)
	sp.Status().SetCode(ptrace.StatusCodeOk)

	out, err := normalizeSpan(sp, 7, 9, 4096, 123)
	require.NoError(t, err)
	assert.Equal(t, "handle-request", out.Name)
	assert.Equal(t, store.SpanKindServer, out.Kind)
	assert.True(t, out.HasParent)
	assert.Equal(t, store.StatusCodeOK, out.Status.Code)
	assert.Equal(t, int64(7), out.ResourceID)
	assert.Equal(t, int64(9), out.ScopeID)
	assert.Equal(t, int64(123), out.IngestUnixNanos)
}

func TestNormalizeSpanNoParentWhenParentIDZero(t *testing.T) {
	sp := ptrace.NewSpan()
	sp.SetTraceID(pcommon.TraceID([16]byte{1}))
	sp.SetSpanID(pcommon.SpanID([8]byte{2}))

	out, err := normalizeSpan(sp, 1, 1, 4096, 0)
	require.NoError(t, err)
	assert.False(t, out.HasParent)
}

func TestClampSeverityBoundsToValidRange(t *testing.T) {
	assert.Equal(t, int32(0), clampSeverity(plog.SeverityNumber(-5)))
	assert.Equal(t, int32(24), clampSeverity(plog.SeverityNumber(99)))
	assert.Equal(t, int32(9), clampSeverity(plog.SeverityNumber(9)))
}

func TestNormalizeLogRecordDetectsTraceContext(t *testing.T) {
	lr := plog.NewLogRecord()
	lr.SetTraceID(pcommon.TraceID([16]byte{1}))
	lr.SetSpanID(pcommon.SpanID([8]byte{2}))
	lr.Body().SetStr("boot complete")

	out := normalizeLogRecord(lr, 1, 2, 4096, 100)
	assert.True(t, out.HasTraceContext)
	assert.Equal(t, "boot complete", out.Body.Str)
}

func TestNormalizeLogRecordNoTraceContextWhenIDsZero(t *testing.T) {
	lr := plog.NewLogRecord()
	out := normalizeLogRecord(lr, 1, 2, 4096, 100)
	assert.False(t, out.HasTraceContext)
}

func TestNormalizeMetricGauge(t *testing.T) {
	m := pmetric.NewMetric()
	m.SetName("queue.depth")
	m.SetUnit("1")
	dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
	dp.SetIntValue(42)

	shape, err := normalizeMetric(m, 4096, 0)
	require.NoError(t, err)
	assert.Equal(t, store.MetricKindGauge, shape.descriptor.Kind)
	require.Len(t, shape.points, 1)
	assert.Equal(t, float64(42), shape.points[0].GaugeOrSumValue)
}

func TestNormalizeMetricSumCapturesMonotonicityAndTemporality(t *testing.T) {
	m := pmetric.NewMetric()
	m.SetName("requests.total")
	sum := m.SetEmptySum()
	sum.SetIsMonotonic(true)
	sum.SetAggregationTemporality(pmetric.AggregationTemporalityCumulative)
	sum.DataPoints().AppendEmpty().SetDoubleValue(1.5)

	shape, err := normalizeMetric(m, 4096, 0)
	require.NoError(t, err)
	assert.True(t, shape.descriptor.Monotonic)
	assert.Equal(t, store.TemporalityCumulative, shape.descriptor.Temporality)
}

func TestNormalizeMetricHistogram(t *testing.T) {
	m := pmetric.NewMetric()
	m.SetName("latency")
	hist := m.SetEmptyHistogram()
	hist.SetAggregationTemporality(pmetric.AggregationTemporalityDelta)
	dp := hist.DataPoints().AppendEmpty()
	dp.SetCount(3)
	dp.SetSum(9.5)
	dp.ExplicitBounds().FromRaw([]float64{1, 2, 3})
	dp.BucketCounts().FromRaw([]uint64{1, 1, 1, 0})

	shape, err := normalizeMetric(m, 4096, 0)
	require.NoError(t, err)
	require.Len(t, shape.points, 1)
	require.NotNil(t, shape.points[0].Histogram)
	assert.Equal(t, uint64(3), shape.points[0].Histogram.Count)
}

func TestNormalizeMetricSummary(t *testing.T) {
	m := pmetric.NewMetric()
	m.SetName("response_time")
	dp := m.SetEmptySummary().DataPoints().AppendEmpty()
	dp.SetCount(10)
	dp.SetSum(42)
	q := dp.QuantileValues().AppendEmpty()
	q.SetQuantile(0.5)
	q.SetValue(4.2)

	shape, err := normalizeMetric(m, 4096, 0)
	require.NoError(t, err)
	require.NotNil(t, shape.points[0].Summary)
	assert.Equal(t, 0.5, shape.points[0].Summary.Quantiles[0].Quantile)
}

func TestNormalizeMetricRejectsUnsetType(t *testing.T) {
	m := pmetric.NewMetric()
	m.SetName("unset")
	_, err := normalizeMetric(m, 4096, 0)
	require.Error(t, err)
}

func TestCountOnlyBuildersReportExactCounts(t *testing.T) {
	td := countOnlyTraces(3)
	assert.Equal(t, 3, td.SpanCount())

	ld := countOnlyLogs(2)
	assert.Equal(t, 2, ld.LogRecordCount())

	md := countOnlyMetrics(5)
	assert.Equal(t, 5, md.DataPointCount())
}
