package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/attrval"
	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
	"github.com/ollyscale/core/internal/store/dimcache"
	"github.com/ollyscale/core/internal/store/fingerprint"
)

// upsertDimension is the shared cache-miss path for all three dimension
// kinds (spec §4.A "Dimension cache"): try the cache, then
// upsert-on-conflict-do-nothing, then select-by-fingerprint, then cache the
// result. insertSQL must take (fp_hi, fp_lo, ...extra...) and
// "ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING"; selectSQL must
// take (fp_hi, fp_lo) and return a single id column.
func (s *Store) upsertDimension(
	ctx context.Context,
	cache *dimcache.Cache,
	fp fingerprint.ID,
	insertSQL string,
	insertArgs []interface{},
	selectSQL string,
) (int64, error) {
	if id, ok := cache.Get(fp); ok {
		return id, nil
	}

	if _, err := s.pool.Exec(ctx, insertSQL, insertArgs...); err != nil {
		return 0, classifyPgErr(ctx, "dimension upsert failed", err)
	}

	var id int64
	row := s.pool.QueryRow(ctx, selectSQL, fp.Hi, fp.Lo)
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ollyerr.Fatal("dimension row missing after upsert", err)
		}
		return 0, classifyPgErr(ctx, "dimension select failed", err)
	}

	cache.Put(fp, id)
	return id, nil
}

// UpsertResource resolves (attrs) to a stable resource_id, deduplicated by
// fingerprint (spec §4.A).
func (s *Store) UpsertResource(ctx context.Context, attrs attrval.Map) (int64, error) {
	canon := attrval.Canonicalize(attrs)
	fp := fingerprint.Of(canon)

	attrJSON, err := marshalAttrs(canon)
	if err != nil {
		return 0, ollyerr.Invalid("resource attributes not serializable", err)
	}

	const insertSQL = `
		INSERT INTO resources (fingerprint_hi, fingerprint_lo, attributes)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING`
	const selectSQL = `SELECT id FROM resources WHERE fingerprint_hi = $1 AND fingerprint_lo = $2`

	id, err := s.upsertDimension(ctx, s.resourceCache, fp, insertSQL, []interface{}{fp.Hi, fp.Lo, attrJSON}, selectSQL)
	if err != nil {
		return 0, err
	}

	if err := s.touchService(ctx, canon); err != nil {
		s.logger.Warn("failed to update service last_seen", zap.Error(err))
	}
	return id, nil
}

// UpsertScope resolves an instrumentation scope identity to a stable
// scope_id.
func (s *Store) UpsertScope(ctx context.Context, name, version string, attrs attrval.Map) (int64, error) {
	canon := attrval.Canonicalize(attrs)
	canon["__scope_name"] = attrval.String(name)
	canon["__scope_version"] = attrval.String(version)
	fp := fingerprint.Of(canon)
	delete(canon, "__scope_name")
	delete(canon, "__scope_version")

	attrJSON, err := marshalAttrs(canon)
	if err != nil {
		return 0, ollyerr.Invalid("scope attributes not serializable", err)
	}

	const insertSQL = `
		INSERT INTO scopes (fingerprint_hi, fingerprint_lo, name, version, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING`
	const selectSQL = `SELECT id FROM scopes WHERE fingerprint_hi = $1 AND fingerprint_lo = $2`

	return s.upsertDimension(ctx, s.scopeCache, fp, insertSQL,
		[]interface{}{fp.Hi, fp.Lo, name, version, attrJSON}, selectSQL)
}

// UpsertMetricDescriptor resolves a metric's identity+shape to a stable
// descriptor_id.
func (s *Store) UpsertMetricDescriptor(ctx context.Context, d store.MetricDescriptor) (int64, error) {
	canon := attrval.Map{
		"name":        attrval.String(d.Name),
		"kind":        attrval.Int(int64(d.Kind)),
		"unit":        attrval.String(d.Unit),
		"temporality": attrval.Int(int64(d.Temporality)),
		"monotonic":   attrval.Bool(d.Monotonic),
	}
	fp := fingerprint.Of(attrval.Canonicalize(canon))

	const insertSQL = `
		INSERT INTO metric_descriptors (fingerprint_hi, fingerprint_lo, name, kind, unit, temporality, monotonic)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint_hi, fingerprint_lo) DO NOTHING`
	const selectSQL = `SELECT id FROM metric_descriptors WHERE fingerprint_hi = $1 AND fingerprint_lo = $2`

	return s.upsertDimension(ctx, s.metricCache, fp, insertSQL,
		[]interface{}{fp.Hi, fp.Lo, d.Name, int32(d.Kind), d.Unit, int32(d.Temporality), d.Monotonic}, selectSQL)
}

// touchService maintains the Service derived view's last_seen (and, on
// first sighting, first_seen) range from a resource's attributes. Service
// rows are never deleted by retention directly; they age out naturally once
// no span references them within any live window (ListServices filters by
// window).
func (s *Store) touchService(ctx context.Context, resourceAttrs attrval.Map) error {
	name := attrString(resourceAttrs, "service.name")
	if name == "" {
		return nil
	}
	namespace := attrString(resourceAttrs, "service.namespace")

	const sql = `
		INSERT INTO services (name, namespace, first_seen, last_seen)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (name, namespace) DO UPDATE SET last_seen = now()`
	_, err := s.pool.Exec(ctx, sql, name, namespace)
	if err != nil {
		return classifyPgErr(ctx, "service upsert failed", err)
	}
	return nil
}

func attrString(m attrval.Map, key string) string {
	v, ok := m[key]
	if !ok || v.Kind != attrval.KindString {
		return ""
	}
	return v.Str
}

func marshalAttrs(m attrval.Map) ([]byte, error) {
	flat := make(map[string]interface{}, len(m))
	for k, v := range m {
		flat[k] = attrToJSON(v)
	}
	return json.Marshal(flat)
}

// jsonToAttrMap decodes a jsonb attributes column back into attrval.Map. It
// is the read-path inverse of marshalAttrs; a malformed or NULL column
// degrades to an empty map rather than failing the whole query, since
// attribute decoding is best-effort for display, not structural.
func jsonToAttrMap(raw []byte) attrval.Map {
	if len(raw) == 0 {
		return attrval.Map{}
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return attrval.Map{}
	}
	out := make(attrval.Map, len(flat))
	for k, v := range flat {
		out[k] = attrval.FromAny(v)
	}
	return out
}

// jsonToAttrValue decodes a single jsonb value column (e.g. a log body).
func jsonToAttrValue(raw []byte) attrval.Value {
	if len(raw) == 0 {
		return attrval.Value{}
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return attrval.Value{}
	}
	return attrval.FromAny(v)
}

// attrToJSON converts a canonical attrval.Value into a plain Go value
// suitable for encoding/json, preserving the tagged-union shape losslessly
// enough to round-trip through PostgreSQL's jsonb type.
func attrToJSON(v attrval.Value) interface{} {
	switch v.Kind {
	case attrval.KindString:
		return v.Str
	case attrval.KindInt64:
		return v.Int
	case attrval.KindDouble:
		return v.Double
	case attrval.KindBool:
		return v.Bool
	case attrval.KindBytes:
		return v.Bytes
	case attrval.KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			out[i] = attrToJSON(e)
		}
		return out
	case attrval.KindKVList:
		out := make(map[string]interface{}, len(v.KVList))
		for k, e := range v.KVList {
			out[k] = attrToJSON(e)
		}
		return out
	default:
		return nil
	}
}
