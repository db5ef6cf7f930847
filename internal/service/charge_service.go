package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"campuspay/internal/apperr"
	"campuspay/internal/config"
	"campuspay/internal/fee"
	"campuspay/internal/infrastructure/metrics"
	"campuspay/internal/model"
	"campuspay/internal/policy"
	"campuspay/internal/processor"
	"campuspay/internal/repository"
	"campuspay/pkg/idgen"
	"campuspay/pkg/retry"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Locker 扣款串行化，同一 (job, payer) 同时只有一个请求在创建扣款
type Locker interface {
	LockCharge(ctx context.Context, jobID, payerID, owner string) (func(context.Context) error, error)
}

type ChargeOptions struct {
	Rates           fee.Rates
	MinChargeMinor  int64
	DefaultCurrency string

	// ProcessorRetry 调用处理方创建扣款的重试策略，所有尝试共用同一个幂等键
	ProcessorRetry retry.Policy
	// PersistRetry 临时记录落库的重试策略
	PersistRetry retry.Policy
}

// NewChargeOptions 从配置构造扣款参数
func NewChargeOptions(cfg *config.Config) ChargeOptions {
	return ChargeOptions{
		Rates: fee.Rates{
			PlatformFeePercent:  cfg.Business.PlatformFeePercent,
			ProcessorPercent:    cfg.Processor.FeePercent,
			ProcessorFixedMinor: cfg.Processor.FeeFixedMinor,
		},
		MinChargeMinor:  cfg.Business.MinChargeMinor,
		DefaultCurrency: cfg.Business.DefaultCurrency,
		ProcessorRetry: retry.Policy{
			MaxAttempts: cfg.Processor.MaxAttempts,
			Backoff:     cfg.Processor.Backoff,
			Retryable:   processor.IsRetryable,
		},
		PersistRetry: retry.Once(200 * time.Millisecond),
	}
}

// 扣款结果指标标签
const (
	chargeResultCreated   = "created"
	chargeResultReused    = "reused"
	chargeResultRejected  = "rejected"
	chargeResultProcessor = "processor_error"
)

type ChargeService struct {
	jobRepo        *repository.JobRepository
	userRepo       *repository.UserRepository
	settlementRepo *repository.SettlementRepository
	guard          *policy.Guard
	processor      processor.Client
	locker         Locker
	metrics        *metrics.Metrics
	opts           ChargeOptions
}

func NewChargeService(db *gorm.DB, proc processor.Client, locker Locker, m *metrics.Metrics, opts ChargeOptions) *ChargeService {
	return &ChargeService{
		jobRepo:        repository.NewJobRepository(db),
		userRepo:       repository.NewUserRepository(db),
		settlementRepo: repository.NewSettlementRepository(db),
		guard:          policy.NewGuard(repository.NewBlockRepository(db)),
		processor:      proc,
		locker:         locker,
		metrics:        m,
		opts:           opts,
	}
}

type ChargeRequest struct {
	JobID   string `json:"job_id" binding:"required"`
	PayerID string `json:"-"`
}

type ChargeResponse struct {
	ClientSecret               string `json:"client_secret"`
	ProcessorReference         string `json:"processor_reference"`
	SettlementID               string `json:"settlement_id,omitempty"`
	TotalAmountMinor           int64  `json:"total_amount_minor"`
	PlatformFeeMinor           int64  `json:"platform_fee_minor"`
	EstimatedProcessorFeeMinor int64  `json:"estimated_processor_fee_minor"`
	EstimatedNetAmountMinor    int64  `json:"estimated_net_amount_minor"`
	Currency                   string `json:"currency"`
	Reused                     bool   `json:"reused"`
}

// CreateCharge 为进行中的任务创建目标扣款，返回付款端完成支付所需的 client_secret
//
// 顺序：校验任务与双方资格 -> 计算费用 -> 加锁 -> 复用未完成的扣款 -> 调用处理方 -> 写入临时记录。
// 处理方扣款成功后，本地落库失败只记日志，不让用户看到失败，由回调兜底匹配自愈
func (s *ChargeService) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	job, payer, payee, err := s.loadParties(ctx, req)
	if err != nil {
		s.metrics.ChargeResult(chargeResultRejected)
		return nil, err
	}

	currency := strings.ToUpper(job.PriceCurrency)
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	total := fee.ToMinor(job.PriceAmount, currency)
	if total < s.opts.MinChargeMinor {
		s.metrics.ChargeResult(chargeResultRejected)
		return nil, apperr.Wrap(apperr.ErrInvalidState, "付款金额低于最低限额 %s", fee.FormatMinor(s.opts.MinChargeMinor, currency))
	}
	breakdown, err := fee.Calculate(total, s.opts.Rates)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "任务金额不合法")
	}

	// 获取扣款锁
	owner := uuid.NewString()
	unlock, err := s.locker.LockCharge(ctx, job.ID, payer.ID, owner)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			slog.Warn("[ChargeService] 释放扣款锁失败", "job_id", job.ID, "payer_id", payer.ID, "error", err)
		}
	}()

	// 获取锁后检查已有记录
	existing, err := s.settlementRepo.GetByJobAndPayer(ctx, nil, job.ID, payer.ID)
	switch {
	case errors.Is(err, repository.ErrSettlementNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("查询结算记录失败: %w", err)
	}

	if existing != nil {
		if existing.IsTerminal() {
			s.metrics.ChargeResult(chargeResultRejected)
			return nil, apperr.Wrap(apperr.ErrInvalidState, "该任务已完成付款")
		}
		if existing.Status == model.SettlementStatusProcessing {
			resp, err := s.reuseIntent(ctx, existing, breakdown)
			if err != nil {
				var pe *apperr.ProcessorError
				if errors.As(err, &pe) {
					s.metrics.ChargeResult(chargeResultProcessor)
				} else {
					s.metrics.ChargeResult(chargeResultRejected)
				}
				return nil, err
			}
			if resp != nil {
				s.metrics.ChargeResult(chargeResultReused)
				slog.Info("[ChargeService] 复用未完成的扣款", "job_id", job.ID, "payer_id", payer.ID, "ref", resp.ProcessorReference)
				return resp, nil
			}
		}
	}

	intent, err := s.createIntent(ctx, job, payer, payee, breakdown, currency, owner)
	if err != nil {
		s.metrics.ChargeResult(chargeResultProcessor)
		return nil, err
	}

	rec := &model.SettlementRecord{
		ID:                         uuid.NewString(),
		SettlementNo:               idgen.GenerateSettlementNo(),
		JobID:                      job.ID,
		PayerID:                    payer.ID,
		PayeeID:                    payee.ID,
		TotalAmountMinor:           breakdown.TotalAmountMinor,
		PlatformFeePercent:         breakdown.PlatformFeePercent,
		PlatformFeeMinor:           breakdown.PlatformFeeMinor,
		EstimatedProcessorFeeMinor: breakdown.EstimatedProcessorFeeMinor,
		NetAmountMinor:             breakdown.EstimatedNetAmountMinor,
		Currency:                   currency,
		ExternalChargeRef:          intent.ID,
		Status:                     model.SettlementStatusProcessing,
	}
	persisted := s.persistProvisional(ctx, rec)

	s.metrics.ChargeResult(chargeResultCreated)
	slog.Info("[ChargeService] 扣款创建成功",
		"job_id", job.ID, "payer_id", payer.ID, "payee_id", payee.ID,
		"ref", intent.ID, "total", breakdown.TotalAmountMinor, "platform_fee", breakdown.PlatformFeeMinor)

	resp := &ChargeResponse{
		ClientSecret:               intent.ClientSecret,
		ProcessorReference:         intent.ID,
		TotalAmountMinor:           breakdown.TotalAmountMinor,
		PlatformFeeMinor:           breakdown.PlatformFeeMinor,
		EstimatedProcessorFeeMinor: breakdown.EstimatedProcessorFeeMinor,
		EstimatedNetAmountMinor:    breakdown.EstimatedNetAmountMinor,
		Currency:                   currency,
	}
	// 落库失败时记录 id 并不存在，不返回给调用方
	if persisted {
		resp.SettlementID = rec.ID
	}
	return resp, nil
}

// loadParties 校验任务状态与双方资格
func (s *ChargeService) loadParties(ctx context.Context, req *ChargeRequest) (*model.Job, *model.User, *model.User, error) {
	job, err := s.jobRepo.GetByID(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, nil, nil, apperr.Wrap(apperr.ErrNotFound, "任务不存在")
		}
		return nil, nil, nil, fmt.Errorf("查询任务失败: %w", err)
	}

	if job.PostedByUserID != req.PayerID {
		return nil, nil, nil, apperr.Wrap(apperr.ErrForbidden, "只有任务发布人可以付款")
	}
	if job.Status != model.JobStatusInProgress {
		return nil, nil, nil, apperr.Wrap(apperr.ErrInvalidState, "任务必须处于进行中才能付款，当前状态: %s", job.Status)
	}
	payeeID := job.AssignedTo()
	if payeeID == "" {
		return nil, nil, nil, apperr.Wrap(apperr.ErrInvalidState, "任务尚未分配接单人")
	}

	payee, err := s.userRepo.GetByID(ctx, payeeID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, nil, apperr.Wrap(apperr.ErrPayeeNotReady, "接单人资料不存在")
		}
		return nil, nil, nil, fmt.Errorf("查询接单人失败: %w", err)
	}
	if !payee.PayoutsEnabled {
		return nil, nil, nil, apperr.Wrap(apperr.ErrPayeeNotReady, "接单人尚未完成收款设置")
	}
	if payee.PayoutAccountRef == "" {
		return nil, nil, nil, apperr.Wrap(apperr.ErrPayeeNotReady, "接单人尚未绑定收款账户")
	}

	payer, err := s.userRepo.GetByID(ctx, req.PayerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, nil, apperr.Wrap(apperr.ErrForbidden, "付款人账号不存在")
		}
		return nil, nil, nil, fmt.Errorf("查询付款人失败: %w", err)
	}

	if err := s.guard.CheckCharge(ctx, payer, payee); err != nil {
		return nil, nil, nil, err
	}
	return job, payer, payee, nil
}

// reuseIntent 已有 processing 记录时查询处理方状态，决定复用、拒绝还是替换原扣款
//
//   - 仍待付款且金额一致：返回原 client_secret，不创建第二笔扣款
//   - 已支付、支付中或已授权待确认：拒绝，等待回调落账
//   - 已取消：返回 nil，由调用方重新创建并原地更新记录
//   - 仍待付款但金额已变化：先取消原扣款，取消成功后才允许重新创建
//
// 【关键点】查询或取消失败时无法确认原扣款已不可支付，直接返回错误。
// 付款端可能还持有原 client_secret，此时再创建一笔会让付款方被扣两次
func (s *ChargeService) reuseIntent(ctx context.Context, existing *model.SettlementRecord, breakdown fee.Breakdown) (*ChargeResponse, error) {
	start := time.Now()
	pi, err := s.processor.RetrievePaymentIntent(ctx, existing.ExternalChargeRef)
	s.metrics.ObserveProcessor("retrieve_intent", start)
	if err != nil {
		slog.Warn("[ChargeService] 查询已有扣款失败，拒绝重新创建", "ref", existing.ExternalChargeRef, "error", err)
		return nil, unconfirmedIntentError(err)
	}

	switch {
	case pi.Status == processor.IntentCanceled:
		return nil, nil
	case !pi.AwaitingPayment():
		return nil, apperr.Wrap(apperr.ErrInvalidState, "付款正在处理中，请勿重复支付")
	case pi.Amount == breakdown.TotalAmountMinor && pi.ClientSecret != "":
		return &ChargeResponse{
			ClientSecret:               pi.ClientSecret,
			ProcessorReference:         pi.ID,
			SettlementID:               existing.ID,
			TotalAmountMinor:           existing.TotalAmountMinor,
			PlatformFeeMinor:           existing.PlatformFeeMinor,
			EstimatedProcessorFeeMinor: existing.EstimatedProcessorFeeMinor,
			EstimatedNetAmountMinor:    existing.NetAmountMinor,
			Currency:                   existing.Currency,
			Reused:                     true,
		}, nil
	}

	slog.Info("[ChargeService] 任务金额已变化，取消原扣款后重新创建", "ref", pi.ID, "old", pi.Amount, "new", breakdown.TotalAmountMinor)
	start = time.Now()
	_, err = s.processor.CancelPaymentIntent(ctx, pi.ID)
	s.metrics.ObserveProcessor("cancel_intent", start)
	if err != nil {
		slog.Warn("[ChargeService] 取消原扣款失败，拒绝重新创建", "ref", pi.ID, "error", err)
		return nil, unconfirmedIntentError(err)
	}
	return nil, nil
}

func (s *ChargeService) createIntent(ctx context.Context, job *model.Job, payer, payee *model.User, b fee.Breakdown, currency, owner string) (*processor.PaymentIntent, error) {
	params := processor.CreateIntentParams{
		Amount:               b.TotalAmountMinor,
		Currency:             currency,
		ApplicationFeeAmount: b.PlatformFeeMinor,
		Destination:          payee.PayoutAccountRef,
		Description:          fmt.Sprintf("Payment for job: %s", job.Title),
		Metadata: processor.Metadata{
			processor.MetaJobID:   job.ID,
			processor.MetaPayerID: payer.ID,
			processor.MetaPayeeID: payee.ID,
		},
		IdempotencyKey: fmt.Sprintf("charge:%s:%s:%s", job.ID, payer.ID, owner),
	}

	var intent *processor.PaymentIntent
	err := s.opts.ProcessorRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		start := time.Now()
		pi, err := s.processor.CreatePaymentIntent(ctx, params)
		s.metrics.ObserveProcessor("create_intent", start)
		if err != nil {
			slog.Warn("[ChargeService] 调用处理方创建扣款失败", "job_id", job.ID, "attempt", attempt, "error", err)
			return err
		}
		intent = pi
		return nil
	})
	if err != nil {
		return nil, toProcessorError(err)
	}
	return intent, nil
}

// persistProvisional 写入临时记录，失败重试一次后放弃，返回是否落库成功
func (s *ChargeService) persistProvisional(ctx context.Context, rec *model.SettlementRecord) bool {
	err := s.opts.PersistRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		return s.settlementRepo.UpsertProvisional(ctx, nil, rec)
	})
	if err == nil {
		return true
	}

	warning := &apperr.PersistenceWarning{Op: "upsert_provisional", Err: err}
	s.metrics.PersistenceWarning()
	slog.Warn("[ChargeService] 扣款已创建但结算记录落库失败，等待回调兜底匹配",
		"job_id", rec.JobID, "payer_id", rec.PayerID, "ref", rec.ExternalChargeRef, "error", warning)
	return false
}

// toProcessorError 只透传处理方面向用户的卡片错误文案，其余错误使用通用文案
func toProcessorError(err error) *apperr.ProcessorError {
	pe := apperr.NewProcessorError("", err)
	pe.StatusCode = http.StatusBadGateway

	var apiErr *processor.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Type == "card_error" && apiErr.Message != "" {
			pe.Message = apiErr.Message
			pe.StatusCode = http.StatusPaymentRequired
		}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		pe.Message = "支付服务响应超时，请稍后重试"
		pe.StatusCode = http.StatusGatewayTimeout
	}
	return pe
}

// unconfirmedIntentError 无法确认原扣款状态时的错误，提示稍后重试
func unconfirmedIntentError(err error) *apperr.ProcessorError {
	pe := toProcessorError(err)
	if pe.StatusCode != http.StatusGatewayTimeout {
		pe.StatusCode = http.StatusBadGateway
	}
	pe.Message = "暂时无法确认上一笔付款的状态，请稍后重试"
	return pe
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
