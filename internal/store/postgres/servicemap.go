package postgres

import (
	"context"
	"fmt"

	"github.com/ollyscale/core/internal/store"
	"github.com/ollyscale/core/internal/store/percentile"
)

// BuildServiceMap derives the service dependency graph for a window (spec
// §4.A "Service-map derivation"). Per SPEC_FULL.md open question #2, edge
// latency is computed per trace-edge (the callee span's own duration, one
// sample per parent/child pair actually observed in a trace) rather than
// per-service aggregate span duration, so a service called both quickly and
// slowly by different callers doesn't wash out into one misleading average.
func (s *Store) BuildServiceMap(ctx context.Context, w store.Window) (store.ServiceMap, error) {
	var out store.ServiceMap

	// Self-join spans on parent_span_id within the same trace to recover
	// caller->callee edges; each row is one observed call with its own
	// latency sample (edge_ns), matching the per-trace-edge decision above.
	// The window predicate applies to the callee span (child), consistent
	// with how SearchSpans windows a fact by its own time column. Only a
	// Client/Producer parent calling a Server/Consumer child counts as an
	// edge (spec §4.A "whenever a Client/Producer span has a descendant ...
	// Server/Consumer span in another service") — internal fan-out spans
	// within the same RPC don't create spurious edges.
	sql := fmt.Sprintf(`
		SELECT cr.attributes->>'service.name' AS caller, pr.attributes->>'service.name' AS callee,
			child.trace_id,
			(child.end_unix_nanos - child.start_unix_nanos) AS edge_ns,
			(child.status_code = 2) AS is_error
		FROM spans child
		JOIN spans parent ON parent.trace_id = child.trace_id AND parent.span_id = child.parent_span_id
		JOIN resources cr ON cr.id = parent.resource_id
		JOIN resources pr ON pr.id = child.resource_id
		WHERE child.has_parent
			AND parent.kind IN (%d, %d)
			AND child.kind IN (%d, %d)
			AND cr.attributes->>'service.name' IS NOT NULL
			AND pr.attributes->>'service.name' IS NOT NULL
			AND cr.attributes->>'service.name' != pr.attributes->>'service.name'
			AND %s BETWEEN $1 AND $2`,
		store.SpanKindClient, store.SpanKindProducer,
		store.SpanKindServer, store.SpanKindConsumer,
		childWindowColumn(w.Field))

	rows, err := s.pool.Query(ctx, sql, w.StartUnixNanos, w.EndUnixNanos)
	if err != nil {
		return out, classifyPgErr(ctx, "service map edge query failed", err)
	}
	defer rows.Close()

	type edgeKey struct{ caller, callee string }
	edgeLatencies := map[edgeKey][]float64{}
	// edgeCallTraces counts distinct traces observed for an edge, per spec
	// §4.A: call_count is "once per (trace_id, edge)", not once per
	// qualifying span pair, so a trace with several Client/Server pairs
	// between the same two services still counts as one call.
	edgeCallTraces := map[edgeKey]map[string]struct{}{}
	edgeErrors := map[edgeKey]int64{}

	nodeLatencies := map[string][]float64{}
	nodeCalls := map[string]int64{}
	nodeErrors := map[string]int64{}

	for rows.Next() {
		var caller, callee string
		var traceID []byte
		var edgeNs int64
		var isError bool
		if err := rows.Scan(&caller, &callee, &traceID, &edgeNs, &isError); err != nil {
			return out, classifyPgErr(ctx, "service map edge scan failed", err)
		}
		k := edgeKey{caller, callee}
		ms := float64(edgeNs) / 1e6
		edgeLatencies[k] = append(edgeLatencies[k], ms)
		if edgeCallTraces[k] == nil {
			edgeCallTraces[k] = map[string]struct{}{}
		}
		edgeCallTraces[k][string(traceID)] = struct{}{}
		if isError {
			edgeErrors[k]++
		}
		nodeLatencies[callee] = append(nodeLatencies[callee], ms)
		nodeCalls[callee]++
		if isError {
			nodeErrors[callee]++
		}
	}
	if err := rows.Err(); err != nil {
		return out, classifyPgErr(ctx, "service map edge iteration failed", err)
	}

	for k, latencies := range edgeLatencies {
		summ := percentile.Compute(latencies)
		out.Edges = append(out.Edges, store.ServiceMapEdge{
			Caller:       k.caller,
			Callee:       k.callee,
			CallCount:    int64(len(edgeCallTraces[k])),
			ErrorCount:   edgeErrors[k],
			AvgLatencyMs: summ.P50,
		})
	}
	for name, latencies := range nodeLatencies {
		summ := percentile.Compute(latencies)
		out.Nodes = append(out.Nodes, store.ServiceMapNode{
			ServiceName:  name,
			RequestCount: nodeCalls[name],
			ErrorCount:   nodeErrors[name],
			P50Ms:        summ.P50,
			P95Ms:        summ.P95,
			P99Ms:        summ.P99,
		})
	}

	return out, nil
}

// childWindowColumn mirrors spanWindowColumn but qualified against the
// "child" alias used by the edge join above.
func childWindowColumn(f store.TimeField) string {
	switch f {
	case store.TimeFieldIngest:
		return "child.ingest_unix_nanos"
	default:
		return "child.start_unix_nanos"
	}
}
