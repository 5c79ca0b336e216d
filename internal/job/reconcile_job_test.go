package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/logger"

	"github.com/stretchr/testify/assert"
)

type fakeReconciler struct {
	mu      sync.Mutex
	pending int
	calls   int
	err     error
}

func (r *fakeReconciler) ReconcileDirty(_ context.Context, batch int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	n := batch
	if r.pending < n {
		n = r.pending
	}
	r.pending -= n
	return n, nil
}

func (r *fakeReconciler) snapshot() (pending, calls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.calls
}

func newTestJob(r DirtyReconciler, batch int) *ReconcileJob {
	cfg := config.Default()
	cfg.Ledger.ReconcileIntervalSeconds = 1
	cfg.Ledger.ReconcileBatchSize = batch
	return NewReconcileJob(r, cfg, logger.Discard())
}

func TestRunOnce_DrainsFullBatches(t *testing.T) {
	r := &fakeReconciler{pending: 7}
	j := newTestJob(r, 3)

	j.runOnce(context.Background())

	pending, calls := r.snapshot()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 3, calls, "3 + 3 + 1")
}

func TestRunOnce_StopsOnError(t *testing.T) {
	r := &fakeReconciler{pending: 10, err: errors.New("redis down")}
	j := newTestJob(r, 3)

	j.runOnce(context.Background())

	_, calls := r.snapshot()
	assert.Equal(t, 1, calls)
}

func TestStart_StopsOnStopAndCancel(t *testing.T) {
	j := newTestJob(&fakeReconciler{}, 3)

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()
	j.Stop()
	j.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j2 := newTestJob(&fakeReconciler{}, 3)
	done2 := make(chan struct{})
	go func() {
		j2.Start(ctx)
		close(done2)
	}()
	cancel()

	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("job did not stop on cancel")
	}
}

func TestNewReconcileJob_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.ReconcileIntervalSeconds = 0
	cfg.Ledger.ReconcileBatchSize = 0
	j := NewReconcileJob(&fakeReconciler{}, cfg, nil)

	assert.Equal(t, time.Minute, j.interval)
	assert.Equal(t, 20, j.batchSize)
}
