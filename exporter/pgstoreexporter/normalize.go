package pgstoreexporter

import (
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/ollyscale/core/internal/attrval"
	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

// convertAttrs flattens an OTLP attribute map into attrval.Map, truncating
// oversized string values per spec §4.B stage 2. pcommon.Value.AsRaw()
// already collapses the protobuf/JSON duality into plain Go values, which
// attrval.FromAny then re-tags.
func convertAttrs(m pcommon.Map, maxAttrLen int) attrval.Map {
	out := make(attrval.Map, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out[k] = attrval.FromAny(v.AsRaw()).Truncate(maxAttrLen)
		return true
	})
	return out
}

func isZeroTraceID(id pcommon.TraceID) bool {
	raw := [16]byte(id)
	return raw == [16]byte{}
}

func isZeroSpanID(id pcommon.SpanID) bool {
	raw := [8]byte(id)
	return raw == [8]byte{}
}

// normalizeSpan converts one OTLP span into a fact row. It rejects spans
// with a zero-valued trace or span id (spec §4.B stage 2, "reject spans
// where id sizes are wrong" — pdata already guarantees fixed-width ids, so
// the internal equivalent of a malformed id is an all-zero one).
func normalizeSpan(sp ptrace.Span, resourceID, scopeID int64, maxAttrLen int, ingestNanos int64) (store.Span, error) {
	if isZeroTraceID(sp.TraceID()) {
		return store.Span{}, ollyerr.Invalid("span has zero-valued trace id", nil)
	}
	if isZeroSpanID(sp.SpanID()) {
		return store.Span{}, ollyerr.Invalid("span has zero-valued span id", nil)
	}

	parentID := sp.ParentSpanID()
	hasParent := !isZeroSpanID(parentID)

	out := store.Span{
		TraceID:         [16]byte(sp.TraceID()),
		SpanID:          [8]byte(sp.SpanID()),
		ParentSpanID:    [8]byte(parentID),
		HasParent:       hasParent,
		Name:            sp.Name(),
		Kind:            spanKindFromOTLP(sp.Kind()),
		StartUnixNanos:  int64(sp.StartTimestamp()),
		EndUnixNanos:    int64(sp.EndTimestamp()),
		Status:          normalizeSpanStatus(sp.Status()),
		ResourceID:      resourceID,
		ScopeID:         scopeID,
		Attributes:      convertAttrs(sp.Attributes(), maxAttrLen),
		Events:          normalizeSpanEvents(sp.Events(), maxAttrLen),
		Links:           normalizeSpanLinks(sp.Links(), maxAttrLen),
		IngestUnixNanos: ingestNanos,
	}
	return out, nil
}

func spanKindFromOTLP(k ptrace.SpanKind) store.SpanKind {
	switch k {
	case ptrace.SpanKindInternal:
		return store.SpanKindInternal
	case ptrace.SpanKindServer:
		return store.SpanKindServer
	case ptrace.SpanKindClient:
		return store.SpanKindClient
	case ptrace.SpanKindProducer:
		return store.SpanKindProducer
	case ptrace.SpanKindConsumer:
		return store.SpanKindConsumer
	default:
		return store.SpanKindUnspecified
	}
}

func normalizeSpanStatus(s ptrace.Status) store.SpanStatus {
	code := store.StatusCodeUnset
	switch s.Code() {
	case ptrace.StatusCodeOk:
		code = store.StatusCodeOK
	case ptrace.StatusCodeError:
		code = store.StatusCodeError
	}
	return store.SpanStatus{Code: code, Message: s.Message()}
}

func normalizeSpanEvents(events ptrace.SpanEventSlice, maxAttrLen int) []store.SpanEvent {
	out := make([]store.SpanEvent, 0, events.Len())
	for i := 0; i < events.Len(); i++ {
		e := events.At(i)
		out = append(out, store.SpanEvent{
			Name:          e.Name(),
			TimeUnixNanos: int64(e.Timestamp()),
			Attributes:    convertAttrs(e.Attributes(), maxAttrLen),
			DroppedAttrs:  e.DroppedAttributesCount(),
		})
	}
	return out
}

func normalizeSpanLinks(links ptrace.SpanLinkSlice, maxAttrLen int) []store.SpanLink {
	out := make([]store.SpanLink, 0, links.Len())
	for i := 0; i < links.Len(); i++ {
		l := links.At(i)
		out = append(out, store.SpanLink{
			TraceID:      [16]byte(l.TraceID()),
			SpanID:       [8]byte(l.SpanID()),
			TraceState:   l.TraceState().AsRaw(),
			Attributes:   convertAttrs(l.Attributes(), maxAttrLen),
			DroppedAttrs: l.DroppedAttributesCount(),
		})
	}
	return out
}

// clampSeverity bounds an OTLP severity number to [0, 24] (spec §4.B stage 2,
// "clamp severity"); values outside the defined enum are folded to the
// nearest valid bound rather than rejected, since severity is advisory.
func clampSeverity(n plog.SeverityNumber) int32 {
	v := int32(n)
	if v < 0 {
		return 0
	}
	if v > 24 {
		return 24
	}
	return v
}

// normalizeLogRecord converts one OTLP log record into a fact row.
func normalizeLogRecord(lr plog.LogRecord, resourceID, scopeID int64, maxAttrLen int, ingestNanos int64) store.LogRecord {
	traceID := lr.TraceID()
	spanID := lr.SpanID()
	hasTraceContext := !isZeroTraceID(traceID) && !isZeroSpanID(spanID)

	return store.LogRecord{
		TimestampUnixNanos:         int64(lr.Timestamp()),
		ObservedTimestampUnixNanos: int64(lr.ObservedTimestamp()),
		SeverityNumber:             clampSeverity(lr.SeverityNumber()),
		SeverityText:               lr.SeverityText(),
		Body:                       attrval.FromAny(lr.Body().AsRaw()).Truncate(maxAttrLen),
		TraceID:                    [16]byte(traceID),
		SpanID:                     [8]byte(spanID),
		HasTraceContext:            hasTraceContext,
		ResourceID:                 resourceID,
		ScopeID:                    scopeID,
		Attributes:                 convertAttrs(lr.Attributes(), maxAttrLen),
		IngestUnixNanos:            ingestNanos,
	}
}

// metricShape is the result of normalizing one pmetric.Metric: the
// descriptor identity (minus its store-assigned ID) plus its data points
// (minus ResourceID/ScopeID/DescriptorID, filled in by the caller once the
// descriptor has been resolved via the dimension cache).
type metricShape struct {
	descriptor store.MetricDescriptor
	points     []store.MetricDataPoint
}

func normalizeMetric(m pmetric.Metric, maxAttrLen int, ingestNanos int64) (metricShape, error) {
	desc := store.MetricDescriptor{Name: m.Name(), Unit: m.Unit()}

	switch m.Type() {
	case pmetric.MetricTypeGauge:
		desc.Kind = store.MetricKindGauge
		pts := m.Gauge().DataPoints()
		out := make([]store.MetricDataPoint, 0, pts.Len())
		for i := 0; i < pts.Len(); i++ {
			dp := pts.At(i)
			out = append(out, store.MetricDataPoint{
				TimeUnixNanos:      int64(dp.Timestamp()),
				StartTimeUnixNanos: int64(dp.StartTimestamp()),
				Attributes:         convertAttrs(dp.Attributes(), maxAttrLen),
				GaugeOrSumValue:    numberValue(dp),
				IngestUnixNanos:    ingestNanos,
			})
		}
		return metricShape{descriptor: desc, points: out}, nil

	case pmetric.MetricTypeSum:
		sum := m.Sum()
		desc.Kind = store.MetricKindSum
		desc.Monotonic = sum.IsMonotonic()
		desc.Temporality = temporalityFromOTLP(sum.AggregationTemporality())
		pts := sum.DataPoints()
		out := make([]store.MetricDataPoint, 0, pts.Len())
		for i := 0; i < pts.Len(); i++ {
			dp := pts.At(i)
			out = append(out, store.MetricDataPoint{
				TimeUnixNanos:      int64(dp.Timestamp()),
				StartTimeUnixNanos: int64(dp.StartTimestamp()),
				Attributes:         convertAttrs(dp.Attributes(), maxAttrLen),
				GaugeOrSumValue:    numberValue(dp),
				IngestUnixNanos:    ingestNanos,
			})
		}
		return metricShape{descriptor: desc, points: out}, nil

	case pmetric.MetricTypeHistogram:
		hist := m.Histogram()
		desc.Kind = store.MetricKindHistogram
		desc.Temporality = temporalityFromOTLP(hist.AggregationTemporality())
		pts := hist.DataPoints()
		out := make([]store.MetricDataPoint, 0, pts.Len())
		for i := 0; i < pts.Len(); i++ {
			dp := pts.At(i)
			out = append(out, store.MetricDataPoint{
				TimeUnixNanos:      int64(dp.Timestamp()),
				StartTimeUnixNanos: int64(dp.StartTimestamp()),
				Attributes:         convertAttrs(dp.Attributes(), maxAttrLen),
				Histogram: &store.HistogramPoint{
					Count:  dp.Count(),
					Sum:    dp.Sum(),
					Bounds: dp.ExplicitBounds().AsRaw(),
					Counts: dp.BucketCounts().AsRaw(),
				},
				IngestUnixNanos: ingestNanos,
			})
		}
		return metricShape{descriptor: desc, points: out}, nil

	case pmetric.MetricTypeExponentialHistogram:
		hist := m.ExponentialHistogram()
		desc.Kind = store.MetricKindExponentialHistogram
		desc.Temporality = temporalityFromOTLP(hist.AggregationTemporality())
		pts := hist.DataPoints()
		out := make([]store.MetricDataPoint, 0, pts.Len())
		for i := 0; i < pts.Len(); i++ {
			dp := pts.At(i)
			out = append(out, store.MetricDataPoint{
				TimeUnixNanos:      int64(dp.Timestamp()),
				StartTimeUnixNanos: int64(dp.StartTimestamp()),
				Attributes:         convertAttrs(dp.Attributes(), maxAttrLen),
				ExpHistogram: &store.ExponentialHistogramPoint{
					Scale:           dp.Scale(),
					ZeroCount:       dp.ZeroCount(),
					PositiveOffset:  dp.Positive().Offset(),
					PositiveBuckets: dp.Positive().BucketCounts().AsRaw(),
					NegativeOffset:  dp.Negative().Offset(),
					NegativeBuckets: dp.Negative().BucketCounts().AsRaw(),
				},
				IngestUnixNanos: ingestNanos,
			})
		}
		return metricShape{descriptor: desc, points: out}, nil

	case pmetric.MetricTypeSummary:
		desc.Kind = store.MetricKindSummary
		pts := m.Summary().DataPoints()
		out := make([]store.MetricDataPoint, 0, pts.Len())
		for i := 0; i < pts.Len(); i++ {
			dp := pts.At(i)
			qs := dp.QuantileValues()
			quantiles := make([]store.SummaryQuantile, 0, qs.Len())
			for j := 0; j < qs.Len(); j++ {
				q := qs.At(j)
				quantiles = append(quantiles, store.SummaryQuantile{Quantile: q.Quantile(), Value: q.Value()})
			}
			out = append(out, store.MetricDataPoint{
				TimeUnixNanos:      int64(dp.Timestamp()),
				StartTimeUnixNanos: int64(dp.StartTimestamp()),
				Attributes:         convertAttrs(dp.Attributes(), maxAttrLen),
				Summary: &store.SummaryPoint{
					Count:     dp.Count(),
					Sum:       dp.Sum(),
					Quantiles: quantiles,
				},
				IngestUnixNanos: ingestNanos,
			})
		}
		return metricShape{descriptor: desc, points: out}, nil

	default:
		return metricShape{}, ollyerr.Invalidf("unsupported metric type %s for %q", m.Type(), m.Name())
	}
}

// numberValue reads a gauge or sum data point's value regardless of whether
// it was encoded as an int or a double.
func numberValue(dp pmetric.NumberDataPoint) float64 {
	if dp.ValueType() == pmetric.NumberDataPointValueTypeInt {
		return float64(dp.IntValue())
	}
	return dp.DoubleValue()
}

func temporalityFromOTLP(t pmetric.AggregationTemporality) store.Temporality {
	switch t {
	case pmetric.AggregationTemporalityDelta:
		return store.TemporalityDelta
	case pmetric.AggregationTemporalityCumulative:
		return store.TemporalityCumulative
	default:
		return store.TemporalityUnspecified
	}
}
