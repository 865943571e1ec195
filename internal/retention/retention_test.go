package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeleter struct {
	calls  int32
	cutoff int64
	err    error
}

func (f *fakeDeleter) DeleteOlderThan(ctx context.Context, cutoffUnixNanos int64) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	atomic.StoreInt64(&f.cutoff, cutoffUnixNanos)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type fakeLocker struct {
	acquired bool
	lockErr  error
}

func (f *fakeLocker) WithAdvisoryLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error) {
	if f.lockErr != nil {
		return false, f.lockErr
	}
	if !f.acquired {
		return false, nil
	}
	return true, fn(ctx)
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultHorizon, cfg.Horizon)
	assert.Equal(t, defaultSweepInterval, cfg.SweepInterval)
}

func TestSweepOnceDeletesWhenLockAcquired(t *testing.T) {
	fd := &fakeDeleter{}
	w := &Worker{deleter: fd, lock: &fakeLocker{acquired: true}, cfg: Config{Horizon: time.Hour, SweepInterval: time.Millisecond}, logger: zap.NewNop()}

	w.sweepOnce(context.Background())
	assert.EqualValues(t, 1, fd.calls)
}

func TestSweepOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	fd := &fakeDeleter{}
	w := &Worker{deleter: fd, lock: &fakeLocker{acquired: false}, cfg: Config{Horizon: time.Hour, SweepInterval: time.Millisecond}, logger: zap.NewNop()}

	w.sweepOnce(context.Background())
	assert.EqualValues(t, 0, fd.calls, "a process that didn't win the lock must not delete")
}

func TestSweepOnceSurvivesDeleterError(t *testing.T) {
	fd := &fakeDeleter{err: assert.AnError}
	w := &Worker{deleter: fd, lock: &fakeLocker{acquired: true}, cfg: Config{Horizon: time.Hour, SweepInterval: time.Millisecond}, logger: zap.NewNop()}

	assert.NotPanics(t, func() { w.sweepOnce(context.Background()) })
	assert.EqualValues(t, 1, fd.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fd := &fakeDeleter{}
	w := &Worker{deleter: fd, lock: &fakeLocker{acquired: true}, cfg: Config{Horizon: time.Hour, SweepInterval: time.Millisecond}, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.Greater(t, int(atomic.LoadInt32(&fd.calls)), 0, "at least one sweep should have run before cancellation")
}
