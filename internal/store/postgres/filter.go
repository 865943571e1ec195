package postgres

import (
	"fmt"
	"regexp"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

// spanColumns, logColumns and metricColumns map a fixed field schema (spec
// §6) to a real column expression for a given fact table; fields outside this map fall back to
// a jsonb ->> lookup against the table's attributes column.
var spanColumns = map[string]string{
	"service_name": "r.attributes->>'service.name'",
	"span_name":    "s.name",
	"trace_id":     "encode(s.trace_id, 'hex')",
	"duration_ns":  "(s.end_unix_nanos - s.start_unix_nanos)",
	"status_code":  "s.status_code",
	"kind":         "s.kind",
}

var logColumns = map[string]string{
	"service_name":    "r.attributes->>'service.name'",
	"severity_number": "l.severity_number",
	"severity_text":   "l.severity_text",
	"trace_id":        "encode(l.trace_id, 'hex')",
	"body":            "l.body#>>'{}'",
}

var metricColumns = map[string]string{
	"service_name": "r.attributes->>'service.name'",
	"name":         "d.name",
}

// buildFilterSQL renders filters as an "AND"-composed SQL fragment (never
// empty; returns "TRUE" when filters is empty) plus the positional args to
// append, starting at argOffset+1.
func buildFilterSQL(filters []store.Filter, columns map[string]string, attrsExpr string, argOffset int) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "TRUE", nil, nil
	}

	clauses := make([]string, 0, len(filters))
	args := make([]interface{}, 0, len(filters))
	n := argOffset

	for _, f := range filters {
		col, ok := columns[f.Field]
		if !ok {
			col = fmt.Sprintf("%s->>'%s'", attrsExpr, sqlIdentSafe(f.Field))
		}

		n++
		clause, arg, err := renderFilterClause(col, f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, fmt.Sprintf(clause, n))
		args = append(args, arg)
	}

	sql := ""
	for i, c := range clauses {
		if i > 0 {
			sql += " AND "
		}
		sql += c
	}
	return sql, args, nil
}

// sqlIdentSafe strips characters that would allow escaping the quoted JSON
// key context; field names come from the fixed schema named in spec §6, but
// attribute fallback keys are caller-controlled strings.
func sqlIdentSafe(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' || r == '\\' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func renderFilterClause(col string, f store.Filter) (string, interface{}, error) {
	switch f.Op {
	case store.OpEq:
		return col + " = $%d", f.Value, nil
	case store.OpNe:
		return col + " != $%d", f.Value, nil
	case store.OpGt:
		return col + "::numeric > $%d", f.Value, nil
	case store.OpGte:
		return col + "::numeric >= $%d", f.Value, nil
	case store.OpLt:
		return col + "::numeric < $%d", f.Value, nil
	case store.OpLte:
		return col + "::numeric <= $%d", f.Value, nil
	case store.OpContains:
		return col + " LIKE $%d", "%" + f.Value + "%", nil
	case store.OpRegex:
		if _, err := regexp.Compile(f.Value); err != nil {
			return "", nil, ollyerr.Invalid(fmt.Sprintf("filter %q has an unparseable regex", f.Field), err)
		}
		return col + " ~ $%d", f.Value, nil
	default:
		return "", nil, ollyerr.Invalidf("unsupported filter operator %q", f.Op)
	}
}
