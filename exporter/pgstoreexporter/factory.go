package pgstoreexporter

import (
	"context"

	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/exporter"
	"go.opentelemetry.io/collector/exporter/exporterhelper"
)

// TypeStr is the component.Type for this exporter.
var TypeStr = component.MustNewType("pgstore")

// NewFactory creates a new factory for the Postgres store exporter. Unlike
// the teacher's sqlite exporter, all three signals are wired: the star
// schema and ingest pipeline are signal-agnostic once dimensions are
// resolved.
func NewFactory() exporter.Factory {
	return exporter.NewFactory(
		TypeStr,
		createDefaultConfig,
		exporter.WithTraces(createTracesExporter, component.StabilityLevelDevelopment),
		exporter.WithLogs(createLogsExporter, component.StabilityLevelDevelopment),
		exporter.WithMetrics(createMetricsExporter, component.StabilityLevelDevelopment),
	)
}

func createDefaultConfig() component.Config {
	return &Config{
		MaxItems:             defaultMaxItems,
		MaxBytes:             defaultMaxBytes,
		MaxDelay:             defaultMaxDelay,
		QueueCapacity:        defaultQueueCapacity,
		QueueHighWater:       defaultQueueHighWater,
		AdmissionTimeout:     defaultAdmissionTimeout,
		MaxRetries:           defaultMaxRetries,
		RetryInitialInterval: defaultRetryInitial,
		RetryMaxInterval:     defaultRetryMax,
		MaxAttrValueBytes:    defaultMaxAttrValueBytes,
		PersistWorkers:       4,
	}
}

// sharedExporter builds a pgStoreExporter for one signal's pipeline. The
// collector constructs and starts traces/logs/metrics exporters
// independently even when they share a component ID, so each gets its own
// connection pool, admission queue, and persist workers; the star-schema
// store is what they actually share (idempotent writes make that safe).
func sharedExporter(set exporter.Settings, cfg component.Config) (*pgStoreExporter, error) {
	expCfg := cfg.(*Config)
	return newPgStoreExporter(expCfg, set.Logger)
}

func createTracesExporter(ctx context.Context, set exporter.Settings, cfg component.Config) (exporter.Traces, error) {
	exp, err := sharedExporter(set, cfg)
	if err != nil {
		return nil, err
	}
	return exporterhelper.NewTraces(
		ctx,
		set,
		cfg,
		exp.pushTraces,
		exporterhelper.WithStart(exp.start),
		exporterhelper.WithShutdown(exp.shutdown),
	)
}

func createLogsExporter(ctx context.Context, set exporter.Settings, cfg component.Config) (exporter.Logs, error) {
	exp, err := sharedExporter(set, cfg)
	if err != nil {
		return nil, err
	}
	return exporterhelper.NewLogs(
		ctx,
		set,
		cfg,
		exp.pushLogs,
		exporterhelper.WithStart(exp.start),
		exporterhelper.WithShutdown(exp.shutdown),
	)
}

func createMetricsExporter(ctx context.Context, set exporter.Settings, cfg component.Config) (exporter.Metrics, error) {
	exp, err := sharedExporter(set, cfg)
	if err != nil {
		return nil, err
	}
	return exporterhelper.NewMetrics(
		ctx,
		set,
		cfg,
		exp.pushMetrics,
		exporterhelper.WithStart(exp.start),
		exporterhelper.WithShutdown(exp.shutdown),
	)
}
