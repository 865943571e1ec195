package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
	"github.com/ollyscale/core/internal/store/percentile"
)

func spanWindowColumn(f store.TimeField) string {
	switch f {
	case store.TimeFieldIngest:
		return "s.ingest_unix_nanos"
	default:
		return "s.start_unix_nanos"
	}
}

func logWindowColumn(f store.TimeField) string {
	switch f {
	case store.TimeFieldIngest:
		return "l.ingest_unix_nanos"
	case store.TimeFieldObserved:
		return "l.observed_timestamp_unix_nanos"
	default:
		return "l.timestamp_unix_nanos"
	}
}

func pointWindowColumn(f store.TimeField) string {
	switch f {
	case store.TimeFieldIngest:
		return "p.ingest_unix_nanos"
	default:
		return "p.time_unix_nanos"
	}
}

// SearchTraces groups spans into traces within the window and returns one
// summary row per trace, root-selected per spec §3 invariant 5.
func (s *Store) SearchTraces(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.TraceSummary], error) {
	var out store.Page[store.TraceSummary]

	offset, err := resolveOffset(p)
	if err != nil {
		return out, err
	}
	limit := resolveLimit(p)

	filterSQL, filterArgs, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	if err != nil {
		return out, err
	}
	col := spanWindowColumn(w.Field)

	// Rank candidate roots within each trace per invariant 5 (no parent,
	// kind in {server, consumer, internal}; ties broken by earliest start),
	// then aggregate the rest of the trace's spans against that root.
	sql := fmt.Sprintf(`
		WITH ranked AS (
			SELECT
				s.trace_id, s.span_id, s.name, s.start_unix_nanos, s.end_unix_nanos,
				s.status_code, s.resource_id,
				ROW_NUMBER() OVER (
					PARTITION BY s.trace_id
					ORDER BY (NOT s.has_parent AND s.kind IN (1,2,5)) DESC, s.start_unix_nanos ASC
				) AS root_rank
			FROM spans s
			JOIN resources r ON r.id = s.resource_id
			WHERE %s BETWEEN $1 AND $2 AND (%s)
		),
		roots AS (
			SELECT * FROM ranked WHERE root_rank = 1
		),
		agg AS (
			SELECT trace_id, COUNT(*) AS span_count,
				BOOL_OR(status_code = 2) AS has_error
			FROM ranked GROUP BY trace_id
		)
		SELECT roots.trace_id, r.attributes->>'service.name', roots.name,
			roots.start_unix_nanos, (roots.end_unix_nanos - roots.start_unix_nanos) / 1000000,
			agg.span_count, agg.has_error
		FROM roots
		JOIN agg ON agg.trace_id = roots.trace_id
		LEFT JOIN resources r ON r.id = roots.resource_id
		ORDER BY roots.start_unix_nanos DESC
		LIMIT $%d OFFSET $%d`, col, filterSQL, len(filterArgs)+3, len(filterArgs)+4)

	args := append([]interface{}{w.StartUnixNanos, w.EndUnixNanos}, filterArgs...)
	args = append(args, limit+1, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return out, classifyPgErr(ctx, "search traces failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t store.TraceSummary
		var traceID []byte
		var serviceName *string
		if err := rows.Scan(&traceID, &serviceName, &t.RootSpanName, &t.StartUnixNanos, &t.DurationMs, &t.SpanCount, &t.HasError); err != nil {
			return out, classifyPgErr(ctx, "search traces scan failed", err)
		}
		copy(t.TraceID[:], traceID)
		if serviceName != nil {
			t.RootServiceName = *serviceName
		}
		out.Items = append(out.Items, t)
	}
	if err := rows.Err(); err != nil {
		return out, classifyPgErr(ctx, "search traces iteration failed", err)
	}

	out.Count = len(out.Items)
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.HasMore = true
		out.NextCursor = encodeCursor(offset + limit)
		out.Count = limit
	}
	return out, nil
}

// SearchSpans returns individual spans matching filters within the window.
func (s *Store) SearchSpans(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.Span], error) {
	var out store.Page[store.Span]

	offset, err := resolveOffset(p)
	if err != nil {
		return out, err
	}
	limit := resolveLimit(p)

	filterSQL, filterArgs, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	if err != nil {
		return out, err
	}
	col := spanWindowColumn(w.Field)

	sql := fmt.Sprintf(`
		SELECT s.trace_id, s.span_id, s.parent_span_id, s.has_parent, s.name, s.kind,
			s.start_unix_nanos, s.end_unix_nanos, s.status_code, s.status_message,
			s.resource_id, s.scope_id, s.attributes, s.events, s.links, s.ingest_unix_nanos
		FROM spans s
		JOIN resources r ON r.id = s.resource_id
		WHERE %s BETWEEN $1 AND $2 AND (%s)
		ORDER BY s.start_unix_nanos DESC
		LIMIT $%d OFFSET $%d`, col, filterSQL, len(filterArgs)+3, len(filterArgs)+4)

	args := append([]interface{}{w.StartUnixNanos, w.EndUnixNanos}, filterArgs...)
	args = append(args, limit+1, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return out, classifyPgErr(ctx, "search spans failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, sp)
	}
	if err := rows.Err(); err != nil {
		return out, classifyPgErr(ctx, "search spans iteration failed", err)
	}

	out.Count = len(out.Items)
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.HasMore = true
		out.NextCursor = encodeCursor(offset + limit)
		out.Count = limit
	}
	return out, nil
}

func scanSpan(rows pgx.Rows) (store.Span, error) {
	var sp store.Span
	var traceID, spanID, parentID []byte
	var attrsJSON, eventsJSON, linksJSON []byte
	var kind, status int32

	if err := rows.Scan(&traceID, &spanID, &parentID, &sp.HasParent, &sp.Name, &kind,
		&sp.StartUnixNanos, &sp.EndUnixNanos, &status, &sp.Status.Message,
		&sp.ResourceID, &sp.ScopeID, &attrsJSON, &eventsJSON, &linksJSON, &sp.IngestUnixNanos); err != nil {
		return sp, ollyerr.Unavailable("span scan failed", err)
	}
	copy(sp.TraceID[:], traceID)
	copy(sp.SpanID[:], spanID)
	copy(sp.ParentSpanID[:], parentID)
	sp.Kind = store.SpanKind(kind)
	sp.Status.Code = store.StatusCode(status)

	if err := json.Unmarshal(eventsJSON, &sp.Events); err != nil {
		return sp, ollyerr.Unavailable("span events decode failed", err)
	}
	if err := json.Unmarshal(linksJSON, &sp.Links); err != nil {
		return sp, ollyerr.Unavailable("span links decode failed", err)
	}
	sp.Attributes = jsonToAttrMap(attrsJSON)
	return sp, nil
}

// SearchLogs returns log records matching filters within the window.
func (s *Store) SearchLogs(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.LogRecord], error) {
	var out store.Page[store.LogRecord]

	offset, err := resolveOffset(p)
	if err != nil {
		return out, err
	}
	limit := resolveLimit(p)

	filterSQL, filterArgs, err := buildFilterSQL(filters, logColumns, "l.attributes", 2)
	if err != nil {
		return out, err
	}
	col := logWindowColumn(w.Field)

	sql := fmt.Sprintf(`
		SELECT l.timestamp_unix_nanos, l.observed_timestamp_unix_nanos, l.severity_number,
			l.severity_text, l.body, l.trace_id, l.span_id, l.has_trace_context,
			l.resource_id, l.scope_id, l.attributes, l.ingest_unix_nanos
		FROM logs l
		JOIN resources r ON r.id = l.resource_id
		WHERE %s BETWEEN $1 AND $2 AND (%s)
		ORDER BY l.timestamp_unix_nanos DESC
		LIMIT $%d OFFSET $%d`, col, filterSQL, len(filterArgs)+3, len(filterArgs)+4)

	args := append([]interface{}{w.StartUnixNanos, w.EndUnixNanos}, filterArgs...)
	args = append(args, limit+1, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return out, classifyPgErr(ctx, "search logs failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lg store.LogRecord
		var traceID, spanID, bodyJSON, attrsJSON []byte
		if err := rows.Scan(&lg.TimestampUnixNanos, &lg.ObservedTimestampUnixNanos, &lg.SeverityNumber,
			&lg.SeverityText, &bodyJSON, &traceID, &spanID, &lg.HasTraceContext,
			&lg.ResourceID, &lg.ScopeID, &attrsJSON, &lg.IngestUnixNanos); err != nil {
			return out, classifyPgErr(ctx, "search logs scan failed", err)
		}
		copy(lg.TraceID[:], traceID)
		copy(lg.SpanID[:], spanID)
		lg.Attributes = jsonToAttrMap(attrsJSON)
		lg.Body = jsonToAttrValue(bodyJSON)
		out.Items = append(out.Items, lg)
	}
	if err := rows.Err(); err != nil {
		return out, classifyPgErr(ctx, "search logs iteration failed", err)
	}

	out.Count = len(out.Items)
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.HasMore = true
		out.NextCursor = encodeCursor(offset + limit)
		out.Count = limit
	}
	return out, nil
}

// SearchMetrics returns metric data points matching filters within the window.
func (s *Store) SearchMetrics(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.MetricDataPoint], error) {
	var out store.Page[store.MetricDataPoint]

	offset, err := resolveOffset(p)
	if err != nil {
		return out, err
	}
	limit := resolveLimit(p)

	filterSQL, filterArgs, err := buildFilterSQL(filters, metricColumns, "p.attributes", 2)
	if err != nil {
		return out, err
	}
	col := pointWindowColumn(w.Field)

	sql := fmt.Sprintf(`
		SELECT p.descriptor_id, p.resource_id, p.scope_id, p.time_unix_nanos, p.start_time_unix_nanos,
			p.attributes, p.gauge_or_sum_value, p.histogram, p.exp_histogram, p.summary,
			p.exemplars, p.ingest_unix_nanos
		FROM metric_points p
		JOIN resources r ON r.id = p.resource_id
		JOIN metric_descriptors d ON d.id = p.descriptor_id
		WHERE %s BETWEEN $1 AND $2 AND (%s)
		ORDER BY p.time_unix_nanos DESC
		LIMIT $%d OFFSET $%d`, col, filterSQL, len(filterArgs)+3, len(filterArgs)+4)

	args := append([]interface{}{w.StartUnixNanos, w.EndUnixNanos}, filterArgs...)
	args = append(args, limit+1, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return out, classifyPgErr(ctx, "search metrics failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p store.MetricDataPoint
		var attrsJSON, histJSON, expJSON, summJSON, exemplarsJSON []byte
		if err := rows.Scan(&p.DescriptorID, &p.ResourceID, &p.ScopeID, &p.TimeUnixNanos, &p.StartTimeUnixNanos,
			&attrsJSON, &p.GaugeOrSumValue, &histJSON, &expJSON, &summJSON, &exemplarsJSON, &p.IngestUnixNanos); err != nil {
			return out, classifyPgErr(ctx, "search metrics scan failed", err)
		}
		p.Attributes = jsonToAttrMap(attrsJSON)
		_ = json.Unmarshal(histJSON, &p.Histogram)
		_ = json.Unmarshal(expJSON, &p.ExpHistogram)
		_ = json.Unmarshal(summJSON, &p.Summary)
		_ = json.Unmarshal(exemplarsJSON, &p.Exemplars)
		out.Items = append(out.Items, p)
	}
	if err := rows.Err(); err != nil {
		return out, classifyPgErr(ctx, "search metrics iteration failed", err)
	}

	out.Count = len(out.Items)
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.HasMore = true
		out.NextCursor = encodeCursor(offset + limit)
		out.Count = limit
	}
	return out, nil
}

// traceDetailBroaden is how far GetTraceDetail widens its window on a miss
// (spec §4.A "Trace-detail assembly": "broadened ±24h on miss"). A trace
// whose spans straddle the window edge — a long-running root started well
// before the query's window but whose child spans landed inside it — would
// otherwise come back with an incomplete or missing root.
const traceDetailBroaden = 24 * time.Hour

// GetTraceDetail returns every span of a trace within the window, plus the
// root chosen per invariant 5. Reuses the same ROW_NUMBER() root-ranking as
// SearchTraces but against a single trace_id instead of a window scan. On a
// miss within the given window it retries once against the window widened
// by traceDetailBroaden in both directions, since the exact window is a
// hint, not a hard constraint, for a single-trace lookup.
func (s *Store) GetTraceDetail(ctx context.Context, traceID [16]byte, w store.Window) (store.TraceDetail, error) {
	detail, err := s.queryTraceDetail(ctx, traceID, w)
	if err == nil || ollyerr.As(err) != ollyerr.KindNotFound {
		return detail, err
	}

	broadened := w
	broadened.StartUnixNanos = w.StartUnixNanos - int64(traceDetailBroaden)
	broadened.EndUnixNanos = w.EndUnixNanos + int64(traceDetailBroaden)
	return s.queryTraceDetail(ctx, traceID, broadened)
}

func (s *Store) queryTraceDetail(ctx context.Context, traceID [16]byte, w store.Window) (store.TraceDetail, error) {
	var detail store.TraceDetail
	detail.TraceID = traceID

	col := spanWindowColumn(w.Field)
	sql := fmt.Sprintf(`
		SELECT s.trace_id, s.span_id, s.parent_span_id, s.has_parent, s.name, s.kind,
			s.start_unix_nanos, s.end_unix_nanos, s.status_code, s.status_message,
			s.resource_id, s.scope_id, s.attributes, s.events, s.links, s.ingest_unix_nanos,
			ROW_NUMBER() OVER (
				ORDER BY (NOT s.has_parent AND s.kind IN (1,2,5)) DESC, s.start_unix_nanos ASC
			) AS root_rank
		FROM spans s
		WHERE s.trace_id = $1 AND %s BETWEEN $2 AND $3
		ORDER BY s.start_unix_nanos ASC`, col)

	rows, err := s.pool.Query(ctx, sql, traceID[:], w.StartUnixNanos, w.EndUnixNanos)
	if err != nil {
		return detail, classifyPgErr(ctx, "trace detail query failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var traceIDCol, spanID, parentID []byte
		var attrsJSON, eventsJSON, linksJSON []byte
		var kind, status int32
		var sp store.Span
		var rank int64

		if err := rows.Scan(&traceIDCol, &spanID, &parentID, &sp.HasParent, &sp.Name, &kind,
			&sp.StartUnixNanos, &sp.EndUnixNanos, &status, &sp.Status.Message,
			&sp.ResourceID, &sp.ScopeID, &attrsJSON, &eventsJSON, &linksJSON, &sp.IngestUnixNanos, &rank); err != nil {
			return detail, classifyPgErr(ctx, "trace detail scan failed", err)
		}
		copy(sp.TraceID[:], traceIDCol)
		copy(sp.SpanID[:], spanID)
		copy(sp.ParentSpanID[:], parentID)
		sp.Kind = store.SpanKind(kind)
		sp.Status.Code = store.StatusCode(status)
		_ = json.Unmarshal(eventsJSON, &sp.Events)
		_ = json.Unmarshal(linksJSON, &sp.Links)
		sp.Attributes = jsonToAttrMap(attrsJSON)

		if rank == 1 {
			detail.RootSpanID = sp.SpanID
			detail.HasRoot = true
		}
		detail.Spans = append(detail.Spans, sp)
	}
	if err := rows.Err(); err != nil {
		return detail, classifyPgErr(ctx, "trace detail iteration failed", err)
	}
	if len(detail.Spans) == 0 {
		return detail, ollyerr.NotFound("trace not found in window", nil)
	}
	return detail, nil
}

// ListServices returns the service catalog (spec §4.C) with request/error
// counts and latency percentiles computed from span data within the window.
func (s *Store) ListServices(ctx context.Context, w store.Window) ([]store.ServiceSummary, error) {
	col := spanWindowColumn(w.Field)
	sql := fmt.Sprintf(`
		SELECT r.attributes->>'service.name' AS service_name,
			COUNT(*) AS request_count,
			COUNT(*) FILTER (WHERE s.status_code = 2) AS error_count,
			svc.first_seen, svc.last_seen,
			ARRAY_AGG((s.end_unix_nanos - s.start_unix_nanos)) AS durations
		FROM spans s
		JOIN resources r ON r.id = s.resource_id
		LEFT JOIN services svc ON svc.name = r.attributes->>'service.name'
		WHERE %s BETWEEN $1 AND $2
			AND r.attributes->>'service.name' IS NOT NULL
			AND NOT s.has_parent
		GROUP BY r.attributes->>'service.name', svc.first_seen, svc.last_seen
		ORDER BY request_count DESC`, col)

	rows, err := s.pool.Query(ctx, sql, w.StartUnixNanos, w.EndUnixNanos)
	if err != nil {
		return nil, classifyPgErr(ctx, "list services failed", err)
	}
	defer rows.Close()

	var out []store.ServiceSummary
	for rows.Next() {
		var svc store.ServiceSummary
		var durationsNs []int64
		var firstSeen, lastSeen *time.Time
		if err := rows.Scan(&svc.ServiceName, &svc.RequestCount, &svc.ErrorCount, &firstSeen, &lastSeen, &durationsNs); err != nil {
			return nil, classifyPgErr(ctx, "list services scan failed", err)
		}
		if firstSeen != nil {
			svc.FirstSeen = *firstSeen
		}
		if lastSeen != nil {
			svc.LastSeen = *lastSeen
		}
		if svc.RequestCount > 0 {
			svc.ErrorRate = float64(svc.ErrorCount) / float64(svc.RequestCount)
		}
		samples := make([]float64, len(durationsNs))
		for i, d := range durationsNs {
			samples[i] = float64(d) / 1e6
		}
		summ := percentile.Compute(samples)
		svc.P50Ms, svc.P95Ms, svc.P99Ms = summ.P50, summ.P95, summ.P99
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgErr(ctx, "list services iteration failed", err)
	}
	return out, nil
}

// DeleteOlderThan enforces the retention horizon (spec §3 invariant 7):
// purges facts, then orphaned dimensions. Facts are deleted by their event
// timestamp, matching the horizon's intent ("data older than the horizon is
// not queryable"), not by ingest time.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classifyPgErr(ctx, "failed to begin retention transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, stmt := range []struct {
		sql string
	}{
		{"DELETE FROM spans WHERE start_unix_nanos < $1"},
		{"DELETE FROM logs WHERE timestamp_unix_nanos < $1"},
		{"DELETE FROM metric_points WHERE time_unix_nanos < $1"},
	} {
		tag, err := tx.Exec(ctx, stmt.sql, cutoffUnixNanos)
		if err != nil {
			return total, classifyPgErr(ctx, "retention delete failed", err)
		}
		total += tag.RowsAffected()
	}

	// Orphaned dimensions (no remaining fact references them) are reclaimed
	// so the dimension caches don't grow unbounded across retention cycles.
	for _, sql := range []string{
		`DELETE FROM resources r WHERE NOT EXISTS (SELECT 1 FROM spans s WHERE s.resource_id = r.id)
			AND NOT EXISTS (SELECT 1 FROM logs l WHERE l.resource_id = r.id)
			AND NOT EXISTS (SELECT 1 FROM metric_points p WHERE p.resource_id = r.id)`,
		`DELETE FROM scopes sc WHERE NOT EXISTS (SELECT 1 FROM spans s WHERE s.scope_id = sc.id)
			AND NOT EXISTS (SELECT 1 FROM logs l WHERE l.scope_id = sc.id)
			AND NOT EXISTS (SELECT 1 FROM metric_points p WHERE p.scope_id = sc.id)`,
		`DELETE FROM metric_descriptors d WHERE NOT EXISTS (SELECT 1 FROM metric_points p WHERE p.descriptor_id = d.id)`,
	} {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return total, classifyPgErr(ctx, "orphaned dimension cleanup failed", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return total, classifyPgErr(ctx, "failed to commit retention transaction", err)
	}
	return total, nil
}
