package querysvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/attrval"
	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

// slowStore is a minimal store.Store whose read methods block until ctx is
// done, so the deadline/cancellation wiring can be exercised without a real
// database — consistent with the hand-written-fake idiom used for
// exporter/pgstoreexporter.
type slowStore struct {
	delay time.Duration
}

func (f *slowStore) UpsertResource(ctx context.Context, attrs attrval.Map) (int64, error) { return 0, nil }
func (f *slowStore) UpsertScope(ctx context.Context, name, version string, attrs attrval.Map) (int64, error) {
	return 0, nil
}
func (f *slowStore) UpsertMetricDescriptor(ctx context.Context, d store.MetricDescriptor) (int64, error) {
	return 0, nil
}
func (f *slowStore) WriteBatch(ctx context.Context, b store.WriteBatch) (store.WriteResult, error) {
	return store.WriteResult{}, nil
}

func (f *slowStore) block(ctx context.Context) error {
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *slowStore) SearchTraces(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.TraceSummary], error) {
	if err := f.block(ctx); err != nil {
		return store.Page[store.TraceSummary]{}, err
	}
	return store.Page[store.TraceSummary]{Items: []store.TraceSummary{{RootServiceName: "checkout"}}}, nil
}
func (f *slowStore) SearchSpans(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.Span], error) {
	return store.Page[store.Span]{}, f.block(ctx)
}
func (f *slowStore) SearchLogs(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.LogRecord], error) {
	return store.Page[store.LogRecord]{}, f.block(ctx)
}
func (f *slowStore) SearchMetrics(ctx context.Context, w store.Window, filters []store.Filter, p store.Paging) (store.Page[store.MetricDataPoint], error) {
	return store.Page[store.MetricDataPoint]{}, f.block(ctx)
}
func (f *slowStore) GetTraceDetail(ctx context.Context, traceID [16]byte, w store.Window) (store.TraceDetail, error) {
	return store.TraceDetail{}, f.block(ctx)
}
func (f *slowStore) ListServices(ctx context.Context, w store.Window) ([]store.ServiceSummary, error) {
	return nil, f.block(ctx)
}
func (f *slowStore) BuildServiceMap(ctx context.Context, w store.Window) (store.ServiceMap, error) {
	return store.ServiceMap{}, f.block(ctx)
}
func (f *slowStore) DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error) {
	return 0, nil
}

func TestSearchTracesReturnsResultsWithinDeadline(t *testing.T) {
	cfg := Config{Deadline: time.Second}
	svc := New(&slowStore{delay: time.Millisecond}, cfg, zap.NewNop())

	page, err := svc.SearchTraces(context.Background(), store.Window{}, nil, store.Paging{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "checkout", page.Items[0].RootServiceName)
}

func TestSearchTracesTranslatesDeadlineExceededToCancelled(t *testing.T) {
	cfg := Config{Deadline: 5 * time.Millisecond}
	svc := New(&slowStore{delay: time.Second}, cfg, zap.NewNop())

	_, err := svc.SearchTraces(context.Background(), store.Window{}, nil, store.Paging{})
	require.Error(t, err)
	assert.Equal(t, ollyerr.KindCancelled, ollyerr.As(err))
}

func TestSearchTracesHonorsShorterCallerDeadline(t *testing.T) {
	cfg := Config{Deadline: time.Minute}
	svc := New(&slowStore{delay: time.Second}, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := svc.SearchTraces(ctx, store.Window{}, nil, store.Paging{})
	require.Error(t, err)
	assert.Equal(t, ollyerr.KindCancelled, ollyerr.As(err))
}

func TestGetTraceDetailPassesThroughToStore(t *testing.T) {
	cfg := Config{Deadline: time.Second}
	svc := New(&slowStore{delay: 0}, cfg, zap.NewNop())

	_, err := svc.GetTraceDetail(context.Background(), [16]byte{1}, store.Window{})
	require.NoError(t, err)
}

func TestConfigValidateAppliesDefaultDeadline(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultDeadline, cfg.Deadline)
}
