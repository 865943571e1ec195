package schema

// migration is one forward step of the schema, applied in a single
// transaction (spec §4.D "migrations must be individually idempotent and
// transactional"). Statements use IF NOT EXISTS throughout so a migration
// can be safely retried after a mid-step crash before the version row was
// written.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations is the fixed, ordered list of schema steps. CurrentSchemaVersion
// is len(migrations); a fresh database starts at version 0 and the coordinator
// walks every entry in order.
var migrations = []migration{
	{
		version: 1,
		name:    "dimension tables",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS resources (
				id BIGSERIAL PRIMARY KEY,
				fingerprint_hi BIGINT NOT NULL,
				fingerprint_lo BIGINT NOT NULL,
				attributes JSONB NOT NULL,
				UNIQUE (fingerprint_hi, fingerprint_lo)
			)`,
			`CREATE TABLE IF NOT EXISTS scopes (
				id BIGSERIAL PRIMARY KEY,
				fingerprint_hi BIGINT NOT NULL,
				fingerprint_lo BIGINT NOT NULL,
				name TEXT NOT NULL,
				version TEXT NOT NULL,
				attributes JSONB NOT NULL,
				UNIQUE (fingerprint_hi, fingerprint_lo)
			)`,
			`CREATE TABLE IF NOT EXISTS metric_descriptors (
				id BIGSERIAL PRIMARY KEY,
				fingerprint_hi BIGINT NOT NULL,
				fingerprint_lo BIGINT NOT NULL,
				name TEXT NOT NULL,
				kind INT NOT NULL,
				unit TEXT NOT NULL,
				temporality INT NOT NULL,
				monotonic BOOLEAN NOT NULL,
				UNIQUE (fingerprint_hi, fingerprint_lo)
			)`,
			`CREATE TABLE IF NOT EXISTS services (
				name TEXT NOT NULL,
				namespace TEXT NOT NULL DEFAULT '',
				first_seen TIMESTAMPTZ NOT NULL,
				last_seen TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (name, namespace)
			)`,
		},
	},
	{
		version: 2,
		name:    "fact tables",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS spans (
				trace_id BYTEA NOT NULL,
				span_id BYTEA NOT NULL,
				parent_span_id BYTEA NOT NULL,
				has_parent BOOLEAN NOT NULL,
				name TEXT NOT NULL,
				kind INT NOT NULL,
				start_unix_nanos BIGINT NOT NULL,
				end_unix_nanos BIGINT NOT NULL,
				status_code INT NOT NULL,
				status_message TEXT NOT NULL DEFAULT '',
				resource_id BIGINT NOT NULL REFERENCES resources(id),
				scope_id BIGINT NOT NULL REFERENCES scopes(id),
				attributes JSONB NOT NULL,
				events JSONB NOT NULL,
				links JSONB NOT NULL,
				ingest_unix_nanos BIGINT NOT NULL,
				PRIMARY KEY (trace_id, span_id)
			)`,
			`CREATE INDEX IF NOT EXISTS spans_start_unix_nanos_idx ON spans (start_unix_nanos)`,
			`CREATE INDEX IF NOT EXISTS spans_ingest_unix_nanos_idx ON spans (ingest_unix_nanos)`,
			`CREATE INDEX IF NOT EXISTS spans_trace_id_idx ON spans (trace_id)`,
			`CREATE TABLE IF NOT EXISTS logs (
				fingerprint_hi BIGINT NOT NULL,
				fingerprint_lo BIGINT NOT NULL,
				timestamp_unix_nanos BIGINT NOT NULL,
				observed_timestamp_unix_nanos BIGINT NOT NULL,
				severity_number INT NOT NULL,
				severity_text TEXT NOT NULL DEFAULT '',
				body JSONB NOT NULL,
				trace_id BYTEA NOT NULL,
				span_id BYTEA NOT NULL,
				has_trace_context BOOLEAN NOT NULL,
				resource_id BIGINT NOT NULL REFERENCES resources(id),
				scope_id BIGINT NOT NULL REFERENCES scopes(id),
				attributes JSONB NOT NULL,
				ingest_unix_nanos BIGINT NOT NULL,
				PRIMARY KEY (fingerprint_hi, fingerprint_lo)
			)`,
			`CREATE INDEX IF NOT EXISTS logs_timestamp_unix_nanos_idx ON logs (timestamp_unix_nanos)`,
			`CREATE INDEX IF NOT EXISTS logs_trace_id_idx ON logs (trace_id) WHERE has_trace_context`,
			`CREATE TABLE IF NOT EXISTS metric_points (
				fingerprint_hi BIGINT NOT NULL,
				fingerprint_lo BIGINT NOT NULL,
				descriptor_id BIGINT NOT NULL REFERENCES metric_descriptors(id),
				resource_id BIGINT NOT NULL REFERENCES resources(id),
				scope_id BIGINT NOT NULL REFERENCES scopes(id),
				time_unix_nanos BIGINT NOT NULL,
				start_time_unix_nanos BIGINT NOT NULL,
				attributes JSONB NOT NULL,
				gauge_or_sum_value DOUBLE PRECISION NOT NULL DEFAULT 0,
				histogram JSONB,
				exp_histogram JSONB,
				summary JSONB,
				exemplars JSONB,
				ingest_unix_nanos BIGINT NOT NULL,
				PRIMARY KEY (fingerprint_hi, fingerprint_lo)
			)`,
			`CREATE INDEX IF NOT EXISTS metric_points_time_unix_nanos_idx ON metric_points (time_unix_nanos)`,
			`CREATE INDEX IF NOT EXISTS metric_points_descriptor_id_idx ON metric_points (descriptor_id)`,
		},
	},
	{
		version: 3,
		name:    "opamp agent state",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS opamp_agents (
				instance_id BYTEA PRIMARY KEY,
				agent_type TEXT NOT NULL DEFAULT '',
				agent_version TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				effective_config BYTEA,
				pending_config BYTEA,
				pending_hash BYTEA,
				last_seen TIMESTAMPTZ NOT NULL
			)`,
		},
	},
}

// CurrentSchemaVersion is the highest version this binary knows how to run
// and the value written to schema_migrations by the acquirer.
var CurrentSchemaVersion = len(migrations)
