package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/logger"
)

// DirtyReconciler 由 service.ReconcileService 实现
type DirtyReconciler interface {
	ReconcileDirty(ctx context.Context, batch int) (int, error)
}

// ReconcileJob 定时取出待对账周期并重算汇总
type ReconcileJob struct {
	reconciler DirtyReconciler
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
}

func NewReconcileJob(reconciler DirtyReconciler, cfg *config.Config, l *slog.Logger) *ReconcileJob {
	interval := time.Duration(cfg.Ledger.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.Ledger.ReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &ReconcileJob{
		reconciler: reconciler,
		logger:     logger.Component(l, "reconcile_job"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.logger.Info("对账任务启动", "interval", j.interval, "batch_size", j.batchSize)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// runOnce 一次最多处理 batchSize 个周期；满批时立即继续，直到集合取空
func (j *ReconcileJob) runOnce(ctx context.Context) {
	total := 0
	for {
		done, err := j.reconciler.ReconcileDirty(ctx, j.batchSize)
		if err != nil {
			j.logger.Error("处理待对账周期失败", logger.FieldError, err)
			break
		}
		total += done
		if done < j.batchSize || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		j.logger.Info("本轮对账完成", "periods", total)
	}
}
