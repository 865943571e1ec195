package pgstoreexporter

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/consumer/consumererror"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store"
	"github.com/ollyscale/core/internal/store/postgres"
)

// schemaGate is the subset of *schema.Coordinator the exporter needs to gate
// writes on, kept as an interface so tests can substitute a fake without a
// live database.
type schemaGate interface {
	CurrentVersion(ctx context.Context) (int, error)
}

// pgStoreExporter implements the Ingest Pipeline's Resolve-dimensions,
// Batch, and Persist stages (spec §4.B) against the star-schema store. One
// instance backs exactly one signal (traces, logs, or metrics); each owns
// its own connection pool, admission queue, and persist workers.
type pgStoreExporter struct {
	cfg    *Config
	logger *zap.Logger

	store   store.Store
	closeFn func()

	schemaPool  *pgxpool.Pool
	schemaCoord schemaGate

	queue *admissionQueue

	startOnce    sync.Once
	startErr     error
	shutdownOnce sync.Once
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
}

func newPgStoreExporter(cfg *Config, logger *zap.Logger) (*pgStoreExporter, error) {
	return &pgStoreExporter{
		cfg:    cfg,
		logger: logger,
		queue:  newAdmissionQueue(cfg.QueueHighWater),
	}, nil
}

// start opens the database connection and launches the persist workers. Its
// body runs at most once per exporter instance; repeated calls return the
// first call's error.
func (e *pgStoreExporter) start(ctx context.Context, _ component.Host) error {
	e.startOnce.Do(func() {
		st, err := postgres.New(ctx, e.cfg.Database, e.logger)
		if err != nil {
			e.startErr = err
			return
		}
		e.store = st
		e.closeFn = st.Close

		schemaPool, err := pgxpool.New(ctx, e.cfg.Database.URL)
		if err != nil {
			e.startErr = err
			return
		}
		e.schemaPool = schemaPool

		coord, err := schema.New(e.schemaPool, e.cfg.Schema, e.logger)
		if err != nil {
			e.startErr = err
			return
		}
		e.schemaCoord = coord

		e.workerCtx, e.workerCancel = context.WithCancel(context.Background())

		// Starting the process must not block on schema readiness (E2E
		// "schema gate" scenario: the ingest binary starts and serves
		// requests immediately, returning Unavailable per-push until
		// migration completes elsewhere). Ensure runs in the background so
		// this process can also become the migrator if it wins the
		// advisory lock; checkSchemaReady is what actually gates pushes.
		go func() {
			if err := e.schemaCoord.Ensure(e.workerCtx); err != nil && e.workerCtx.Err() == nil {
				e.logger.Warn("schema coordination ended without reaching required version", zap.Error(err))
			}
		}()

		for i := 0; i < e.cfg.PersistWorkers; i++ {
			e.workerWG.Add(1)
			go func() {
				defer e.workerWG.Done()
				e.runPersistWorker(e.workerCtx)
			}()
		}
	})
	return e.startErr
}

func (e *pgStoreExporter) shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		if e.workerCancel != nil {
			e.workerCancel()
		}
		e.workerWG.Wait()
		if shed := e.queue.shedCount(); shed > 0 {
			e.logger.Warn("admission queue shed items under pressure", zap.Int64("shed_total", shed))
		}
		if e.closeFn != nil {
			e.closeFn()
		}
		if e.schemaPool != nil {
			e.schemaPool.Close()
		}
	})
	return nil
}

// checkSchemaReady returns Unavailable without touching the store whenever
// the schema version is below the configured minimum (spec §4.B "Schema not
// ready -> Unavailable", §8 "no DB mutation occurs"). Called at the top of
// every push method, before any UpsertResource/UpsertScope/WriteBatch call.
func (e *pgStoreExporter) checkSchemaReady(ctx context.Context) error {
	if e.schemaCoord == nil {
		return nil
	}
	version, err := e.schemaCoord.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if version < e.cfg.Schema.RequiredVersion {
		return ollyerr.Unavailablef("schema version %d below required minimum %d", version, e.cfg.Schema.RequiredVersion)
	}
	return nil
}

// runPersistWorker repeatedly coalesces queued batches up to MaxItems or
// MaxDelay, whichever comes first (spec §4.B stage 4), and persists the
// merged batch with bounded retry (stage 5).
func (e *pgStoreExporter) runPersistWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch := e.queue.drainUpTo(e.cfg.MaxItems, e.cfg.MaxDelay)
		if batch == nil {
			if !e.queue.wait(ctx) {
				return
			}
			continue
		}
		e.persistMerged(ctx, batch)
	}
}

func (e *pgStoreExporter) persistMerged(ctx context.Context, batch []*pendingBatch) {
	merged := store.WriteBatch{}
	for _, pb := range batch {
		merged.Spans = append(merged.Spans, pb.batch.Spans...)
		merged.Logs = append(merged.Logs, pb.batch.Logs...)
		merged.Points = append(merged.Points, pb.batch.Points...)
	}

	err := e.persistWithRetry(ctx, merged)
	for _, pb := range batch {
		pb.done <- batchOutcome{err: err}
		close(pb.done)
	}
}

// persistWithRetry retries WriteBatch on Retryable errors with exponential
// backoff up to cfg.MaxRetries, then gives up (spec §4.B stage 5).
func (e *pgStoreExporter) persistWithRetry(ctx context.Context, batch store.WriteBatch) error {
	op := func() error {
		_, err := e.store.WriteBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if ollyerr.As(err) == ollyerr.KindUnavailable {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialInterval
	bo.MaxInterval = e.cfg.RetryMaxInterval
	return backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(e.cfg.MaxRetries)))
}

// submitOutcome classifies how a submitted batch finished, so the caller
// knows whether to count the loss in partial_success or abort the whole
// push (spec §4.B "Backpressure" and "Failure modes").
type submitOutcome int

const (
	submitOK submitOutcome = iota
	// submitRejected marks a batch that was shed or exhausted its
	// retries: a permanent loss, accounted in partial_success.
	submitRejected
	// submitTimedOut marks a batch still waiting in the queue when the
	// admission timeout elapsed: the whole push should return Unavailable
	// so the collector retries. Persistence is idempotent (fingerprint
	// keys), so re-sending already-queued items on retry is safe.
	submitTimedOut
)

func (e *pgStoreExporter) submit(ctx context.Context, batch store.WriteBatch, itemCount int) (submitOutcome, error) {
	if itemCount == 0 {
		return submitOK, nil
	}
	pb := &pendingBatch{batch: batch, itemCount: itemCount, enqueued: time.Now(), done: make(chan batchOutcome, 1)}
	e.queue.enqueue(pb)

	admissionCtx, cancel := context.WithTimeout(ctx, e.cfg.AdmissionTimeout)
	defer cancel()

	select {
	case out := <-pb.done:
		if out.shed {
			return submitRejected, ollyerr.Unavailablef("batch of %d items shed under admission pressure", itemCount)
		}
		if out.err != nil {
			return submitRejected, out.err
		}
		return submitOK, nil
	case <-admissionCtx.Done():
		return submitTimedOut, ollyerr.Unavailablef("admission timeout exceeded waiting for %d items to commit", itemCount)
	}
}

// pushTraces implements the traces Consumer interface, running Normalize,
// Resolve-dimensions, Batch, and Persist for one OTLP export request.
func (e *pgStoreExporter) pushTraces(ctx context.Context, td ptrace.Traces) error {
	if err := e.checkSchemaReady(ctx); err != nil {
		return err
	}

	ingestNanos := time.Now().UnixNano()
	var normalized []store.Span
	var rejectedCount int

	rs := td.ResourceSpans()
	for i := 0; i < rs.Len(); i++ {
		r := rs.At(i)
		resourceID, err := e.store.UpsertResource(ctx, convertAttrs(r.Resource().Attributes(), e.cfg.MaxAttrValueBytes))
		if err != nil {
			return err
		}
		ss := r.ScopeSpans()
		for j := 0; j < ss.Len(); j++ {
			s := ss.At(j)
			scope := s.Scope()
			scopeID, err := e.store.UpsertScope(ctx, scope.Name(), scope.Version(), convertAttrs(scope.Attributes(), e.cfg.MaxAttrValueBytes))
			if err != nil {
				return err
			}
			spans := s.Spans()
			for k := 0; k < spans.Len(); k++ {
				ns, err := normalizeSpan(spans.At(k), resourceID, scopeID, e.cfg.MaxAttrValueBytes, ingestNanos)
				if err != nil {
					rejectedCount++
					continue
				}
				normalized = append(normalized, ns)
			}
		}
	}

	for start := 0; start < len(normalized); start += e.cfg.MaxItems {
		end := start + e.cfg.MaxItems
		if end > len(normalized) {
			end = len(normalized)
		}
		chunk := normalized[start:end]
		outcome, err := e.submit(ctx, store.WriteBatch{Spans: chunk}, len(chunk))
		switch outcome {
		case submitTimedOut:
			return err
		case submitRejected:
			rejectedCount += len(chunk)
		}
	}

	if rejectedCount > 0 {
		return consumererror.NewTraces(ollyerr.Invalidf("%d spans rejected", rejectedCount), countOnlyTraces(rejectedCount))
	}
	return nil
}

// pushLogs implements the logs Consumer interface.
func (e *pgStoreExporter) pushLogs(ctx context.Context, ld plog.Logs) error {
	if err := e.checkSchemaReady(ctx); err != nil {
		return err
	}

	ingestNanos := time.Now().UnixNano()
	var normalized []store.LogRecord

	rl := ld.ResourceLogs()
	for i := 0; i < rl.Len(); i++ {
		r := rl.At(i)
		resourceID, err := e.store.UpsertResource(ctx, convertAttrs(r.Resource().Attributes(), e.cfg.MaxAttrValueBytes))
		if err != nil {
			return err
		}
		sl := r.ScopeLogs()
		for j := 0; j < sl.Len(); j++ {
			s := sl.At(j)
			scope := s.Scope()
			scopeID, err := e.store.UpsertScope(ctx, scope.Name(), scope.Version(), convertAttrs(scope.Attributes(), e.cfg.MaxAttrValueBytes))
			if err != nil {
				return err
			}
			records := s.LogRecords()
			for k := 0; k < records.Len(); k++ {
				normalized = append(normalized, normalizeLogRecord(records.At(k), resourceID, scopeID, e.cfg.MaxAttrValueBytes, ingestNanos))
			}
		}
	}

	var rejectedCount int
	for start := 0; start < len(normalized); start += e.cfg.MaxItems {
		end := start + e.cfg.MaxItems
		if end > len(normalized) {
			end = len(normalized)
		}
		chunk := normalized[start:end]
		outcome, err := e.submit(ctx, store.WriteBatch{Logs: chunk}, len(chunk))
		switch outcome {
		case submitTimedOut:
			return err
		case submitRejected:
			rejectedCount += len(chunk)
		}
	}

	if rejectedCount > 0 {
		return consumererror.NewLogs(ollyerr.Invalidf("%d log records rejected", rejectedCount), countOnlyLogs(rejectedCount))
	}
	return nil
}

// pushMetrics implements the metrics Consumer interface. Metric descriptors
// are resolved once per (resource, scope, metric identity) via
// UpsertMetricDescriptor before their data points are queued.
func (e *pgStoreExporter) pushMetrics(ctx context.Context, md pmetric.Metrics) error {
	if err := e.checkSchemaReady(ctx); err != nil {
		return err
	}

	ingestNanos := time.Now().UnixNano()
	var normalized []store.MetricDataPoint
	var rejectedPoints int

	rm := md.ResourceMetrics()
	for i := 0; i < rm.Len(); i++ {
		r := rm.At(i)
		resourceID, err := e.store.UpsertResource(ctx, convertAttrs(r.Resource().Attributes(), e.cfg.MaxAttrValueBytes))
		if err != nil {
			return err
		}
		sm := r.ScopeMetrics()
		for j := 0; j < sm.Len(); j++ {
			s := sm.At(j)
			scope := s.Scope()
			scopeID, err := e.store.UpsertScope(ctx, scope.Name(), scope.Version(), convertAttrs(scope.Attributes(), e.cfg.MaxAttrValueBytes))
			if err != nil {
				return err
			}
			metrics := s.Metrics()
			for k := 0; k < metrics.Len(); k++ {
				shape, err := normalizeMetric(metrics.At(k), e.cfg.MaxAttrValueBytes, ingestNanos)
				if err != nil {
					rejectedPoints++
					continue
				}
				descID, err := e.store.UpsertMetricDescriptor(ctx, shape.descriptor)
				if err != nil {
					return err
				}
				for _, pt := range shape.points {
					pt.DescriptorID = descID
					pt.ResourceID = resourceID
					pt.ScopeID = scopeID
					normalized = append(normalized, pt)
				}
			}
		}
	}

	for start := 0; start < len(normalized); start += e.cfg.MaxItems {
		end := start + e.cfg.MaxItems
		if end > len(normalized) {
			end = len(normalized)
		}
		chunk := normalized[start:end]
		outcome, err := e.submit(ctx, store.WriteBatch{Points: chunk}, len(chunk))
		switch outcome {
		case submitTimedOut:
			return err
		case submitRejected:
			rejectedPoints += len(chunk)
		}
	}

	if rejectedPoints > 0 {
		return consumererror.NewMetrics(ollyerr.Invalidf("%d data points rejected", rejectedPoints), countOnlyMetrics(rejectedPoints))
	}
	return nil
}

// countOnlyTraces builds a ptrace.Traces whose total span count is n. OTLP's
// partial_success fields are plain counts, so consumererror only needs the
// wrapped payload's item count to match, not its original content.
func countOnlyTraces(n int) ptrace.Traces {
	td := ptrace.NewTraces()
	if n <= 0 {
		return td
	}
	spans := td.ResourceSpans().AppendEmpty().ScopeSpans().AppendEmpty().Spans()
	for i := 0; i < n; i++ {
		spans.AppendEmpty()
	}
	return td
}

func countOnlyLogs(n int) plog.Logs {
	ld := plog.NewLogs()
	if n <= 0 {
		return ld
	}
	records := ld.ResourceLogs().AppendEmpty().ScopeLogs().AppendEmpty().LogRecords()
	for i := 0; i < n; i++ {
		records.AppendEmpty()
	}
	return ld
}

func countOnlyMetrics(n int) pmetric.Metrics {
	md := pmetric.NewMetrics()
	if n <= 0 {
		return md
	}
	points := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty().SetEmptyGauge().DataPoints()
	for i := 0; i < n; i++ {
		points.AppendEmpty()
	}
	return md
}
