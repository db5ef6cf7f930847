package job

import (
	"context"
	"log/slog"
	"time"

	"campuspay/internal/infrastructure/metrics"
	"campuspay/internal/model"
	"campuspay/internal/repository"
	"campuspay/internal/service"

	"gorm.io/gorm"
)

// IntentReconciler 主动对账单个扣款
type IntentReconciler interface {
	ReconcileIntent(ctx context.Context, intentID string) (*service.WebhookResult, error)
}

type SweeperOptions struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// ProcessingSweeper 补偿任务：回调丢失或手续费查询失败时，processing 记录会一直停留，
// 这里定期向处理方查询真实状态并复用回调的对账逻辑
type ProcessingSweeper struct {
	settlementRepo *repository.SettlementRepository
	reconciler     IntentReconciler
	metrics        *metrics.Metrics
	opts           SweeperOptions
	now            func() time.Time
	stopCh         chan struct{}
}

func NewProcessingSweeper(db *gorm.DB, reconciler IntentReconciler, m *metrics.Metrics, opts SweeperOptions) *ProcessingSweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &ProcessingSweeper{
		settlementRepo: repository.NewSettlementRepository(db),
		reconciler:     reconciler,
		metrics:        m,
		opts:           opts,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

func (j *ProcessingSweeper) Start(ctx context.Context) {
	slog.Info("[ProcessingSweeper] 补偿任务启动", "interval", j.opts.Interval, "stale_after", j.opts.StaleAfter)

	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[ProcessingSweeper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			slog.Info("[ProcessingSweeper] 任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ProcessingSweeper) Stop() {
	close(j.stopCh)
}

// RunOnce 处理一批超时的 processing 记录，返回各结果的计数
func (j *ProcessingSweeper) RunOnce(ctx context.Context) map[string]int {
	before := j.now().Add(-j.opts.StaleAfter)
	records, err := j.settlementRepo.ListStaleProcessing(ctx, before, j.opts.BatchSize)
	if err != nil {
		slog.Error("[ProcessingSweeper] 查询待补偿记录失败", "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	slog.Info("[ProcessingSweeper] 发现需要补偿的结算记录", "count", len(records))

	counts := make(map[string]int)
	for _, rec := range records {
		outcome := j.sweep(ctx, rec)
		counts[outcome]++
		if outcome == model.WebhookOutcomePending || outcome == model.WebhookOutcomeError || outcome == model.WebhookOutcomeDeferred {
			if err := j.settlementRepo.TouchProcessing(ctx, rec.ID); err != nil {
				slog.Warn("[ProcessingSweeper] 刷新记录时间失败", "settlement_id", rec.ID, "error", err)
			}
		}
		j.metrics.SweeperReconciled(outcome)
	}
	return counts
}

func (j *ProcessingSweeper) sweep(ctx context.Context, rec *model.SettlementRecord) string {
	result, err := j.reconciler.ReconcileIntent(ctx, rec.ExternalChargeRef)
	if err != nil {
		slog.Warn("[ProcessingSweeper] 补偿对账失败", "settlement_id", rec.ID, "ref", rec.ExternalChargeRef, "error", err)
		if result != nil && result.Outcome != "" {
			return result.Outcome
		}
		return model.WebhookOutcomeError
	}

	if result.Outcome != model.WebhookOutcomePending {
		slog.Info("[ProcessingSweeper] 补偿对账完成", "settlement_id", rec.ID, "ref", rec.ExternalChargeRef, "outcome", result.Outcome)
	}
	return result.Outcome
}
