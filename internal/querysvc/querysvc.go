// Package querysvc implements the Query Engine (spec §4.C): time-bounded
// search over traces/spans/logs/metrics, trace-detail assembly, the service
// catalog, and service-map derivation. It is a thin layer over store.Store
// that owns exactly one cross-cutting concern the Store itself does not:
// the per-query deadline and cooperative cancellation spec §4.C and §5
// require ("on cancel, the task must stop issuing new database work ...
// return a Cancelled result").
package querysvc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

// Config configures the query engine's cross-cutting request handling.
type Config struct {
	// Deadline is the default per-query server timeout (spec §6
	// "query.deadline"). A caller-supplied context deadline that is
	// already shorter is never extended.
	// Default: 10s
	Deadline time.Duration `mapstructure:"deadline"`
}

const defaultDeadline = 10 * time.Second

// Validate fills Config defaults.
func (cfg *Config) Validate() error {
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	return nil
}

// Service implements the query operations over an injected store.Store,
// the same dependency-injection shape as exporter/pgstoreexporter: callers
// construct it with the Store interface, not a concrete postgres.Store, so
// it can be tested against an in-memory fake.
type Service struct {
	store  store.Store
	logger *zap.Logger
	cfg    Config
}

// New builds a Service. cfg should already have passed Validate.
func New(st store.Store, cfg Config, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger, cfg: cfg}
}

// withDeadline bounds ctx by cfg.Deadline unless ctx already carries an
// earlier deadline, matching the "cooperative cancellation" requirement:
// the query engine never extends a caller's own deadline.
func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < s.cfg.Deadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Deadline)
}

// translateCancellation maps a context cancellation observed by this layer
// to ollyerr.Cancelled, so query handlers never leak a raw context.Canceled/
// DeadlineExceeded to HTTP/JSON callers (spec §7 "narrowest kind").
func translateCancellation(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && ollyerr.As(err) != ollyerr.KindInvalid {
		return ollyerr.Cancelled("query cancelled", err)
	}
	return err
}

// SearchTraces serves §4.C "Search" for traces.
func (s *Service) SearchTraces(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.TraceSummary], error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	page, err := s.store.SearchTraces(ctx, w, filters, p)
	return page, translateCancellation(ctx, err)
}

// SearchSpans serves §4.C "Search" for individual spans.
func (s *Service) SearchSpans(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.Span], error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	page, err := s.store.SearchSpans(ctx, w, filters, p)
	return page, translateCancellation(ctx, err)
}

// SearchLogs serves §4.C "Search" for log records.
func (s *Service) SearchLogs(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.LogRecord], error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	page, err := s.store.SearchLogs(ctx, w, filters, p)
	return page, translateCancellation(ctx, err)
}

// SearchMetrics serves §4.C "Search" for metric data points.
func (s *Service) SearchMetrics(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.MetricDataPoint], error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	page, err := s.store.SearchMetrics(ctx, w, filters, p)
	return page, translateCancellation(ctx, err)
}

// GetTraceDetail serves §4.C "Trace detail".
func (s *Service) GetTraceDetail(ctx context.Context, traceID [16]byte, w store.Window) (store.TraceDetail, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	detail, err := s.store.GetTraceDetail(ctx, traceID, w)
	return detail, translateCancellation(ctx, err)
}

// ListServices serves §4.C "Service catalog".
func (s *Service) ListServices(ctx context.Context, w store.Window) ([]store.ServiceSummary, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	services, err := s.store.ListServices(ctx, w)
	return services, translateCancellation(ctx, err)
}

// BuildServiceMap serves §4.C "Service map".
func (s *Service) BuildServiceMap(ctx context.Context, w store.Window) (store.ServiceMap, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	sm, err := s.store.BuildServiceMap(ctx, w)
	return sm, translateCancellation(ctx, err)
}
