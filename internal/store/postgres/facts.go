package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/ollyscale/core/internal/attrval"
	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
	"github.com/ollyscale/core/internal/store/fingerprint"
)

// WriteBatch persists spans, logs, and metric points in one transaction:
// either all rows commit or none (spec §4.A). Duplicate facts — identified
// by the idempotency keys in spec §3 invariant 6 — are silently skipped via
// ON CONFLICT DO NOTHING, giving at-least-once producers exactly-once
// persistence.
func (s *Store) WriteBatch(ctx context.Context, b store.WriteBatch) (store.WriteResult, error) {
	var result store.WriteResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, classifyPgErr(ctx, "failed to begin write batch transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(b.Spans) > 0 {
		written, duped, err := writeSpans(ctx, tx, b.Spans)
		if err != nil {
			return result, err
		}
		result.SpansWritten, result.SpansDuped = written, duped
	}

	if len(b.Logs) > 0 {
		written, duped, err := writeLogs(ctx, tx, b.Logs)
		if err != nil {
			return result, err
		}
		result.LogsWritten, result.LogsDuped = written, duped
	}

	if len(b.Points) > 0 {
		written, duped, err := writePoints(ctx, tx, b.Points)
		if err != nil {
			return result, err
		}
		result.PointsWritten, result.PointsDuped = written, duped
	}

	if err := tx.Commit(ctx); err != nil {
		return result, classifyPgErr(ctx, "failed to commit write batch", err)
	}
	return result, nil
}

const spanInsertSQL = `
	INSERT INTO spans (
		trace_id, span_id, parent_span_id, has_parent, name, kind,
		start_unix_nanos, end_unix_nanos, status_code, status_message,
		resource_id, scope_id, attributes, events, links, ingest_unix_nanos
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (trace_id, span_id) DO NOTHING`

func writeSpans(ctx context.Context, tx pgx.Tx, spans []store.Span) (written, duped int, err error) {
	for _, sp := range spans {
		attrsJSON, mErr := marshalAttrs(sp.Attributes)
		if mErr != nil {
			return written, duped, ollyerr.Invalid("span attributes not serializable", mErr)
		}
		eventsJSON, mErr := json.Marshal(sp.Events)
		if mErr != nil {
			return written, duped, ollyerr.Invalid("span events not serializable", mErr)
		}
		linksJSON, mErr := json.Marshal(sp.Links)
		if mErr != nil {
			return written, duped, ollyerr.Invalid("span links not serializable", mErr)
		}

		tag, execErr := tx.Exec(ctx, spanInsertSQL,
			sp.TraceID[:], sp.SpanID[:], sp.ParentSpanID[:], sp.HasParent, sp.Name, int32(sp.Kind),
			sp.StartUnixNanos, sp.EndUnixNanos, int32(sp.Status.Code), sp.Status.Message,
			sp.ResourceID, sp.ScopeID, attrsJSON, eventsJSON, linksJSON, sp.IngestUnixNanos)
		if execErr != nil {
			return written, duped, classifyPgErr(ctx, "span insert failed", execErr)
		}
		if tag.RowsAffected() == 0 {
			duped++
		} else {
			written++
		}
	}
	return written, duped, nil
}

const logInsertSQL = `
	INSERT INTO logs (
		fingerprint_hi, fingerprint_lo, timestamp_unix_nanos, observed_timestamp_unix_nanos,
		severity_number, severity_text, body, trace_id, span_id, has_trace_context,
		resource_id, scope_id, attributes, ingest_unix_nanos
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING`

func writeLogs(ctx context.Context, tx pgx.Tx, logs []store.LogRecord) (written, duped int, err error) {
	for _, lg := range logs {
		fp := logFingerprint(lg)

		attrsJSON, mErr := marshalAttrs(lg.Attributes)
		if mErr != nil {
			return written, duped, ollyerr.Invalid("log attributes not serializable", mErr)
		}
		bodyJSON, mErr := json.Marshal(attrToJSON(lg.Body))
		if mErr != nil {
			return written, duped, ollyerr.Invalid("log body not serializable", mErr)
		}

		tag, execErr := tx.Exec(ctx, logInsertSQL,
			fp.Hi, fp.Lo, lg.TimestampUnixNanos, lg.ObservedTimestampUnixNanos,
			lg.SeverityNumber, lg.SeverityText, bodyJSON, lg.TraceID[:], lg.SpanID[:], lg.HasTraceContext,
			lg.ResourceID, lg.ScopeID, attrsJSON, lg.IngestUnixNanos)
		if execErr != nil {
			return written, duped, classifyPgErr(ctx, "log insert failed", execErr)
		}
		if tag.RowsAffected() == 0 {
			duped++
		} else {
			written++
		}
	}
	return written, duped, nil
}

// logFingerprint implements spec §3 invariant 6's log idempotency key:
// hash of timestamp + resource_fk + body + attrs.
func logFingerprint(lg store.LogRecord) fingerprint.ID {
	key := attrval.Canonicalize(lg.Attributes)
	key["__ts"] = attrval.Int(lg.TimestampUnixNanos)
	key["__resource_id"] = attrval.Int(lg.ResourceID)
	key["__body"] = attrval.String(lg.Body.String())
	return fingerprint.Of(key)
}

const pointInsertSQL = `
	INSERT INTO metric_points (
		fingerprint_hi, fingerprint_lo, descriptor_id, resource_id, scope_id,
		time_unix_nanos, start_time_unix_nanos, attributes,
		gauge_or_sum_value, histogram, exp_histogram, summary, exemplars, ingest_unix_nanos
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING`

func writePoints(ctx context.Context, tx pgx.Tx, points []store.MetricDataPoint) (written, duped int, err error) {
	for _, p := range points {
		fp := pointFingerprint(p)

		attrsJSON, mErr := marshalAttrs(p.Attributes)
		if mErr != nil {
			return written, duped, ollyerr.Invalid("metric point attributes not serializable", mErr)
		}
		histJSON, _ := json.Marshal(p.Histogram)
		expJSON, _ := json.Marshal(p.ExpHistogram)
		summJSON, _ := json.Marshal(p.Summary)
		exemplarsJSON, _ := json.Marshal(p.Exemplars)

		tag, execErr := tx.Exec(ctx, pointInsertSQL,
			fp.Hi, fp.Lo, p.DescriptorID, p.ResourceID, p.ScopeID,
			p.TimeUnixNanos, p.StartTimeUnixNanos, attrsJSON,
			p.GaugeOrSumValue, histJSON, expJSON, summJSON, exemplarsJSON, p.IngestUnixNanos)
		if execErr != nil {
			return written, duped, classifyPgErr(ctx, "metric point insert failed", execErr)
		}
		if tag.RowsAffected() == 0 {
			duped++
		} else {
			written++
		}
	}
	return written, duped, nil
}

// pointFingerprint implements spec §3 invariant 6's metric idempotency key:
// (descriptor_fk, resource_fk, scope_fk, time, attrs-hash).
func pointFingerprint(p store.MetricDataPoint) fingerprint.ID {
	key := attrval.Canonicalize(p.Attributes)
	key["__descriptor_id"] = attrval.Int(p.DescriptorID)
	key["__resource_id"] = attrval.Int(p.ResourceID)
	key["__scope_id"] = attrval.Int(p.ScopeID)
	key["__time"] = attrval.Int(p.TimeUnixNanos)
	return fingerprint.Of(key)
}
