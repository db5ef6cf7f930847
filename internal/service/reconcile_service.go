package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campuspay/internal/apperr"
	"campuspay/internal/config"
	"campuspay/internal/fee"
	"campuspay/internal/infrastructure/cache"
	"campuspay/internal/infrastructure/metrics"
	"campuspay/internal/model"
	"campuspay/internal/processor"
	"campuspay/internal/receipt"
	"campuspay/internal/repository"
	"campuspay/pkg/idgen"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errFeeUnavailable = errors.New("无法获取处理方实际手续费")

type ReconcileOptions struct {
	WebhookSecret      string
	SignatureTolerance time.Duration

	SettlementTopic    string
	PayoutAccountTopic string

	// Rates 仅用于兜底插入时估算预估手续费
	Rates       fee.Rates
	FeeCacheTTL time.Duration

	Now func() time.Time
}

func NewReconcileOptions(cfg *config.Config) ReconcileOptions {
	return ReconcileOptions{
		WebhookSecret:      cfg.Processor.WebhookSecret,
		SignatureTolerance: cfg.Processor.SignatureTolerance,
		SettlementTopic:    cfg.Kafka.Topic.SettlementResult,
		PayoutAccountTopic: cfg.Kafka.Topic.PayoutAccount,
		Rates: fee.Rates{
			PlatformFeePercent:  cfg.Business.PlatformFeePercent,
			ProcessorPercent:    cfg.Processor.FeePercent,
			ProcessorFixedMinor: cfg.Processor.FeeFixedMinor,
		},
		FeeCacheTTL: cfg.Business.FeeCacheTTL,
	}
}

// WebhookResult 回调确认体，验签通过后总是以 2xx 返回
type WebhookResult struct {
	Received bool              `json:"received"`
	EventID  string            `json:"event_id,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Outcome  string            `json:"outcome"`
	Receipt  *receipt.Snapshot `json:"receipt,omitempty"`
}

// SettlementResultMessage 结算终态消息，经发件箱投递到 Kafka
type SettlementResultMessage struct {
	EventType  string            `json:"event_type"`
	Source     string            `json:"source"`
	EventID    string            `json:"event_id,omitempty"`
	Settlement *receipt.Snapshot `json:"settlement"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// PayoutAccountMessage 收款账户状态变更消息
type PayoutAccountMessage struct {
	AccountRef     string    `json:"account_ref"`
	PayoutsEnabled bool      `json:"payouts_enabled"`
	EventID        string    `json:"event_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

const (
	sourceWebhook = "webhook"
	sourceSweeper = "sweeper"
)

type ReconcileService struct {
	db             *gorm.DB
	settlementRepo *repository.SettlementRepository
	userRepo       *repository.UserRepository
	eventRepo      *repository.WebhookEventRepository
	outboxRepo     *repository.OutboxRepository
	processor      processor.Client
	feeCache       *cache.TTLCache[string, int64]
	metrics        *metrics.Metrics
	opts           ReconcileOptions
}

func NewReconcileService(db *gorm.DB, proc processor.Client, m *metrics.Metrics, opts ReconcileOptions) *ReconcileService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SignatureTolerance <= 0 {
		opts.SignatureTolerance = processor.DefaultTolerance
	}
	if opts.FeeCacheTTL <= 0 {
		opts.FeeCacheTTL = 10 * time.Minute
	}

	s := &ReconcileService{
		db:             db,
		settlementRepo: repository.NewSettlementRepository(db),
		userRepo:       repository.NewUserRepository(db),
		eventRepo:      repository.NewWebhookEventRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		processor:      proc,
		metrics:        m,
		opts:           opts,
	}
	s.feeCache = cache.NewTTLCache[string, int64](opts.FeeCacheTTL, s.loadBalanceFee)
	return s
}

// settlementUpdate 从事件中提取的一次账本变更
type settlementUpdate struct {
	Ref            string
	Meta           processor.Metadata
	Status         string
	FeeMinor       *int64
	FailureMessage string

	// 兜底插入时使用
	AmountMinor          int64
	ApplicationFeeAmount int64
	Currency             string
}

func (u settlementUpdate) patch() repository.SettlementPatch {
	p := repository.SettlementPatch{Status: u.Status}
	if u.FeeMinor != nil {
		p.ProcessorFeeMinor = u.FeeMinor
		p.ProcessorFeePercent = fee.FeeRatio(*u.FeeMinor, u.AmountMinor)
	}
	if u.Status == model.SettlementStatusFailed {
		msg := u.FailureMessage
		if msg == "" {
			msg = "支付失败"
		}
		p.FailureMessage = &msg
	}
	return p
}

// HandleWebhook 处理一次回调投递
//
// 只有两种情况返回错误：服务未配置回调密钥（ErrMisconfigured，处理方会重试）和验签失败（ErrSignature）。
// 验签通过后无论匹配与否都返回确认，内部错误只记录到事件日志
func (s *ReconcileService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	if s.opts.WebhookSecret == "" {
		slog.Error("[ReconcileService] 未配置回调签名密钥")
		return nil, apperr.ErrMisconfigured
	}

	// 【关键点】先验签再解析 JSON，未通过验签的内容不做任何处理
	if err := processor.VerifySignature(payload, signatureHeader, s.opts.WebhookSecret, s.opts.SignatureTolerance); err != nil {
		slog.Warn("[ReconcileService] 回调验签失败", "error", err)
		return nil, fmt.Errorf("%w: %v", apperr.ErrSignature, err)
	}

	event, err := processor.ParseEvent(payload)
	if err != nil {
		slog.Warn("[ReconcileService] 回调事件格式错误，直接确认", "error", err)
		s.metrics.WebhookHandled(string(processor.KindUnhandled), model.WebhookOutcomeIgnored)
		return &WebhookResult{Received: true, Outcome: model.WebhookOutcomeIgnored}, nil
	}

	result := &WebhookResult{Received: true, EventID: event.ID, Kind: string(event.Kind())}

	logged, err := s.eventRepo.Record(ctx, &model.WebhookEvent{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		EventType: event.Type,
		ObjectRef: objectRef(event),
		Payload:   datatypes.JSON(payload),
	})
	if err != nil {
		// 事件日志不可用时仍继续处理，账本更新本身是幂等的
		slog.Error("[ReconcileService] 登记回调事件失败", "event_id", event.ID, "error", err)
	} else if logged.ProcessedAt != nil {
		slog.Info("[ReconcileService] 重复投递，已处理过", "event_id", event.ID, "outcome", logged.Outcome)
		result.Outcome = model.WebhookOutcomeDuplicate
		s.metrics.WebhookHandled(result.Kind, result.Outcome)
		return result, nil
	}

	outcome, snapshot, err := s.dispatch(ctx, event)
	result.Outcome = outcome
	result.Receipt = snapshot
	s.metrics.WebhookHandled(result.Kind, outcome)

	switch {
	case err != nil:
		slog.Error("[ReconcileService] 回调处理失败", "event_id", event.ID, "type", event.Type, "outcome", outcome, "error", err)
		if markErr := s.eventRepo.MarkUnprocessed(ctx, event.ID, outcome, err.Error()); markErr != nil {
			slog.Error("[ReconcileService] 记录回调处理结果失败", "event_id", event.ID, "error", markErr)
		}
	case isSettlementWrite(outcome) || outcome == model.WebhookOutcomeAccountUpdated:
		// 已在业务事务中标记
	default:
		if markErr := s.eventRepo.MarkProcessed(ctx, nil, event.ID, outcome); markErr != nil {
			slog.Error("[ReconcileService] 记录回调处理结果失败", "event_id", event.ID, "error", markErr)
		}
	}
	return result, nil
}

func (s *ReconcileService) dispatch(ctx context.Context, event *processor.Event) (string, *receipt.Snapshot, error) {
	switch p := event.Payload.(type) {
	case processor.ChargeSucceeded:
		upd, err := s.updateFromCharge(ctx, &p.Charge)
		if err != nil {
			return model.WebhookOutcomeDeferred, nil, err
		}
		return s.applySettlement(ctx, upd, sourceWebhook, event.ID)

	case processor.PaymentIntentSucceeded:
		upd, err := s.updateFromSucceededIntent(ctx, &p.Intent)
		if err != nil {
			return model.WebhookOutcomeDeferred, nil, err
		}
		return s.applySettlement(ctx, upd, sourceWebhook, event.ID)

	case processor.PaymentIntentFailed:
		return s.applySettlement(ctx, updateFromFailedIntent(&p.Intent), sourceWebhook, event.ID)

	case processor.AccountUpdated:
		return s.applyAccountUpdate(ctx, &p.Account, event.ID)

	default:
		slog.Debug("[ReconcileService] 忽略不关心的事件类型", "event_id", event.ID, "type", event.Type)
		return model.WebhookOutcomeIgnored, nil, nil
	}
}

// ReconcileIntent 主动查询处理方并对账单个扣款，供补偿任务调用
//
// 只在处理方给出确定结论时修改账本；仍在进行中的扣款返回 pending
func (s *ReconcileService) ReconcileIntent(ctx context.Context, intentID string) (*WebhookResult, error) {
	start := time.Now()
	pi, err := s.processor.RetrievePaymentIntent(ctx, intentID)
	s.metrics.ObserveProcessor("retrieve_intent", start)
	if err != nil {
		return nil, fmt.Errorf("查询扣款状态失败: %w", err)
	}

	result := &WebhookResult{Received: true}
	switch {
	case pi.Status == processor.IntentSucceeded:
		result.Kind = string(processor.KindPaymentIntentSucceeded)
		upd, err := s.updateFromSucceededIntent(ctx, pi)
		if err != nil {
			result.Outcome = model.WebhookOutcomeDeferred
			return result, err
		}
		result.Outcome, result.Receipt, err = s.applySettlement(ctx, upd, sourceSweeper, "")
		return result, err

	case pi.Status == processor.IntentCanceled,
		pi.Status == processor.IntentRequiresPaymentMethod && pi.LastPaymentError != nil:
		result.Kind = string(processor.KindPaymentIntentFailed)
		result.Outcome, result.Receipt, err = s.applySettlement(ctx, updateFromFailedIntent(pi), sourceSweeper, "")
		return result, err

	default:
		result.Outcome = model.WebhookOutcomePending
		return result, nil
	}
}

// applySettlement 在一个事务中完成账本匹配、条件更新、发件箱写入和事件标记
//
// 匹配顺序：
//  1. 按处理方引用更新（status <> succeeded 的 CAS）
//  2. 引用命中但已成功：already_settled，不做修改
//  3. 按元数据 (job_id, payer_id) 兜底更新，并补写引用
//  4. 仍未命中：以元数据为自然键 insert-if-absent，再按引用应用同一个条件更新
//  5. 没有元数据：unmatched，记录告警后确认
func (s *ReconcileService) applySettlement(ctx context.Context, upd settlementUpdate, source, eventID string) (string, *receipt.Snapshot, error) {
	var (
		outcome string
		current *model.SettlementRecord
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = s.matchAndPatch(ctx, tx, upd)
		if err != nil {
			return err
		}
		if !isSettlementWrite(outcome) {
			return nil
		}

		current, err = s.settlementRepo.GetByReference(ctx, tx, upd.Ref)
		if err != nil {
			return fmt.Errorf("重新读取结算记录失败: %w", err)
		}

		msg, err := model.NewOutboxMessage(s.opts.SettlementTopic, current.ID, &SettlementResultMessage{
			EventType:  "settlement." + current.Status,
			Source:     source,
			EventID:    eventID,
			Settlement: receipt.SnapshotOf(current),
			OccurredAt: s.opts.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("构造结算消息失败: %w", err)
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入发件箱失败: %w", err)
		}

		if eventID != "" {
			if err := s.eventRepo.MarkProcessed(ctx, tx, eventID, outcome); err != nil {
				return fmt.Errorf("标记回调事件失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.WebhookOutcomeError, nil, err
	}

	switch outcome {
	case model.WebhookOutcomeUnmatched:
		s.metrics.UnmatchedEvent()
		slog.Warn("[ReconcileService] WARNING 回调事件未匹配到结算记录",
			"ref", upd.Ref, "job_id", upd.Meta.JobID(), "payer_id", upd.Meta.PayerID(), "status", upd.Status)
	case model.WebhookOutcomeDuplicatePayment:
		slog.Error("[ReconcileService] WARNING 同一任务出现第二笔成功扣款，需人工退款",
			"ref", upd.Ref, "job_id", upd.Meta.JobID(), "payer_id", upd.Meta.PayerID(), "amount", upd.AmountMinor)
	case model.WebhookOutcomeAlreadySettled:
		slog.Info("[ReconcileService] 结算记录已成功，忽略本次事件", "ref", upd.Ref, "status", upd.Status)
	case model.WebhookOutcomeIgnored:
		slog.Info("[ReconcileService] 失败事件指向已被重新发起的旧扣款，忽略", "ref", upd.Ref, "job_id", upd.Meta.JobID())
	default:
		slog.Info("[ReconcileService] 结算记录已更新",
			"ref", upd.Ref, "outcome", outcome, "status", current.Status,
			"processor_fee", current.EffectiveProcessorFee(), "net", current.NetAmountMinor, "source", source)
	}

	return outcome, receipt.SnapshotOf(current), nil
}

func (s *ReconcileService) matchAndPatch(ctx context.Context, tx *gorm.DB, upd settlementUpdate) (string, error) {
	patch := upd.patch()

	ok, err := s.settlementRepo.UpdateByReference(ctx, tx, upd.Ref, patch, true)
	if err != nil {
		return "", fmt.Errorf("按引用更新结算记录失败: %w", err)
	}
	if ok {
		return model.WebhookOutcomeUpdated, nil
	}

	existing, err := s.settlementRepo.GetByReference(ctx, tx, upd.Ref)
	switch {
	case err == nil:
		if existing.IsTerminal() || !model.CanTransitionTo(existing.Status, upd.Status) && existing.Status != upd.Status {
			return model.WebhookOutcomeAlreadySettled, nil
		}
		// 行存在但未发生变化（MySQL 对未修改的行返回 0）
		return model.WebhookOutcomeUpdated, nil
	case !errors.Is(err, repository.ErrSettlementNotFound):
		return "", fmt.Errorf("按引用查询结算记录失败: %w", err)
	}

	if !upd.Meta.HasSettlementKey() {
		return model.WebhookOutcomeUnmatched, nil
	}
	jobID, payerID := upd.Meta.JobID(), upd.Meta.PayerID()

	// 【关键点】失败事件不改绑到另一次尝试的行上：迟到的旧扣款失败不能把新一次扣款标记为失败
	if upd.Status == model.SettlementStatusFailed {
		row, err := s.settlementRepo.GetByJobAndPayer(ctx, tx, jobID, payerID)
		if err == nil && row.ExternalChargeRef != upd.Ref {
			return model.WebhookOutcomeIgnored, nil
		}
		if err != nil && !errors.Is(err, repository.ErrSettlementNotFound) {
			return "", fmt.Errorf("按任务查询结算记录失败: %w", err)
		}
	}

	fallback := patch
	fallback.ExternalChargeRef = upd.Ref
	ok, err = s.settlementRepo.UpdateByJobAndPayer(ctx, tx, jobID, payerID, fallback, true)
	if err != nil {
		return "", fmt.Errorf("兜底更新结算记录失败: %w", err)
	}
	if ok {
		return model.WebhookOutcomeFallbackUpdated, nil
	}

	rec, ok := s.recordFromEvent(upd)
	if !ok {
		return model.WebhookOutcomeUnmatched, nil
	}
	inserted, err := s.settlementRepo.InsertIfAbsent(ctx, tx, rec)
	if err != nil {
		return "", fmt.Errorf("兜底插入结算记录失败: %w", err)
	}
	if !inserted {
		// (job_id, payer_id) 已存在：要么已成功，要么刚被并发写入，再试一次兜底更新
		ok, err = s.settlementRepo.UpdateByJobAndPayer(ctx, tx, jobID, payerID, fallback, true)
		if err != nil {
			return "", fmt.Errorf("兜底更新结算记录失败: %w", err)
		}
		if ok {
			return model.WebhookOutcomeFallbackUpdated, nil
		}
		return s.settledOutcome(ctx, tx, upd)
	}

	if _, err := s.settlementRepo.UpdateByReference(ctx, tx, upd.Ref, patch, true); err != nil {
		return "", fmt.Errorf("更新兜底插入的结算记录失败: %w", err)
	}
	return model.WebhookOutcomeInserted, nil
}

// settledOutcome 同一 (job, payer) 已有终态记录时区分重复事件和重复付款
//
// 【关键点】另一笔扣款已经成功、本次又是一笔不同引用的成功事件，说明付款方被扣了两次，
// 账本只记一笔，必须告警人工退款，不能当作已结算静默确认
func (s *ReconcileService) settledOutcome(ctx context.Context, tx *gorm.DB, upd settlementUpdate) (string, error) {
	if upd.Status != model.SettlementStatusSucceeded {
		return model.WebhookOutcomeAlreadySettled, nil
	}
	row, err := s.settlementRepo.GetByJobAndPayer(ctx, tx, upd.Meta.JobID(), upd.Meta.PayerID())
	if err != nil {
		return "", fmt.Errorf("按任务查询结算记录失败: %w", err)
	}
	if row.Status == model.SettlementStatusSucceeded && row.ExternalChargeRef != upd.Ref {
		return model.WebhookOutcomeDuplicatePayment, nil
	}
	return model.WebhookOutcomeAlreadySettled, nil
}

// recordFromEvent 临时记录丢失时，用事件中的金额和元数据重建一行 processing 记录
func (s *ReconcileService) recordFromEvent(upd settlementUpdate) (*model.SettlementRecord, bool) {
	if upd.AmountMinor < 1 || upd.Meta.PayeeID() == "" {
		return nil, false
	}

	currency := strings.ToUpper(upd.Currency)
	estimated := fee.EstimateProcessorFee(upd.AmountMinor, s.opts.Rates.ProcessorPercent, s.opts.Rates.ProcessorFixedMinor)
	platformFee := upd.ApplicationFeeAmount
	percent := s.opts.Rates.PlatformFeePercent
	if platformFee == 0 {
		platformFee = fee.PlatformFee(upd.AmountMinor, percent)
	} else if ratio := fee.FeeRatio(platformFee, upd.AmountMinor); ratio.Valid {
		percent = ratio.Decimal.Shift(2).Round(2)
	}

	return &model.SettlementRecord{
		ID:                         uuid.NewString(),
		SettlementNo:               idgen.GenerateSettlementNo(),
		JobID:                      upd.Meta.JobID(),
		PayerID:                    upd.Meta.PayerID(),
		PayeeID:                    upd.Meta.PayeeID(),
		TotalAmountMinor:           upd.AmountMinor,
		PlatformFeePercent:         percent,
		PlatformFeeMinor:           platformFee,
		EstimatedProcessorFeeMinor: estimated,
		NetAmountMinor:             fee.NetAmount(upd.AmountMinor, platformFee, estimated),
		Currency:                   currency,
		ExternalChargeRef:          upd.Ref,
		Status:                     model.SettlementStatusProcessing,
	}, true
}

// applyAccountUpdate 回写收款方的 payouts_enabled，与结算记录无关
func (s *ReconcileService) applyAccountUpdate(ctx context.Context, acct *processor.Account, eventID string) (string, *receipt.Snapshot, error) {
	outcome := model.WebhookOutcomeAccountUpdated

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.userRepo.UpdatePayoutsEnabled(ctx, tx, acct.ID, acct.PayoutsEnabled)
		if err != nil {
			return fmt.Errorf("更新收款状态失败: %w", err)
		}
		if n == 0 {
			outcome = model.WebhookOutcomeUnmatched
			return nil
		}

		msg, err := model.NewOutboxMessage(s.opts.PayoutAccountTopic, acct.ID, &PayoutAccountMessage{
			AccountRef:     acct.ID,
			PayoutsEnabled: acct.PayoutsEnabled,
			EventID:        eventID,
			OccurredAt:     s.opts.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("构造收款账户消息失败: %w", err)
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入发件箱失败: %w", err)
		}
		return s.eventRepo.MarkProcessed(ctx, tx, eventID, outcome)
	})
	if err != nil {
		return model.WebhookOutcomeError, nil, err
	}

	if outcome == model.WebhookOutcomeUnmatched {
		slog.Warn("[ReconcileService] WARNING 收款账户未关联任何用户", "account_ref", acct.ID)
	} else {
		slog.Info("[ReconcileService] 收款状态已更新", "account_ref", acct.ID, "payouts_enabled", acct.PayoutsEnabled)
	}
	return outcome, nil, nil
}

// updateFromCharge charge.succeeded：引用优先取所属 payment_intent，与临时记录写入的引用一致
func (s *ReconcileService) updateFromCharge(ctx context.Context, c *processor.Charge) (settlementUpdate, error) {
	ref := c.PaymentIntent
	if ref == "" {
		ref = c.ID
	}
	feeMinor, err := s.resolveChargeFee(ctx, c)
	if err != nil {
		return settlementUpdate{}, err
	}
	return settlementUpdate{
		Ref:                  ref,
		Meta:                 c.Metadata,
		Status:               model.SettlementStatusSucceeded,
		FeeMinor:             &feeMinor,
		AmountMinor:          c.Amount,
		ApplicationFeeAmount: c.ApplicationFeeAmount,
		Currency:             c.Currency,
	}, nil
}

// updateFromSucceededIntent payment_intent.succeeded：沿 intent -> charge -> balance_transaction 取实际手续费
func (s *ReconcileService) updateFromSucceededIntent(ctx context.Context, pi *processor.PaymentIntent) (settlementUpdate, error) {
	ref := pi.FirstCharge()
	if ref.ID == "" {
		// 事件体里没有 charge 时回查一次，retrieve 会展开 latest_charge
		start := time.Now()
		fresh, err := s.processor.RetrievePaymentIntent(ctx, pi.ID)
		s.metrics.ObserveProcessor("retrieve_intent", start)
		if err != nil {
			return settlementUpdate{}, fmt.Errorf("%w: %v", errFeeUnavailable, err)
		}
		ref = fresh.FirstCharge()
		if ref.ID == "" {
			return settlementUpdate{}, fmt.Errorf("%w: payment_intent %s 没有关联的 charge", errFeeUnavailable, pi.ID)
		}
	}

	charge := ref.Expanded
	if charge == nil || charge.BalanceTransaction.ID == "" {
		start := time.Now()
		c, err := s.processor.RetrieveCharge(ctx, ref.ID)
		s.metrics.ObserveProcessor("retrieve_charge", start)
		if err != nil {
			return settlementUpdate{}, fmt.Errorf("%w: %v", errFeeUnavailable, err)
		}
		charge = c
	}

	feeMinor, err := s.resolveChargeFee(ctx, charge)
	if err != nil {
		return settlementUpdate{}, err
	}

	meta := pi.Metadata
	if !meta.HasSettlementKey() {
		meta = charge.Metadata
	}
	return settlementUpdate{
		Ref:                  pi.ID,
		Meta:                 meta,
		Status:               model.SettlementStatusSucceeded,
		FeeMinor:             &feeMinor,
		AmountMinor:          pi.Amount,
		ApplicationFeeAmount: pi.ApplicationFeeAmount,
		Currency:             pi.Currency,
	}, nil
}

func updateFromFailedIntent(pi *processor.PaymentIntent) settlementUpdate {
	return settlementUpdate{
		Ref:                  pi.ID,
		Meta:                 pi.Metadata,
		Status:               model.SettlementStatusFailed,
		FailureMessage:       pi.FailureMessage(),
		AmountMinor:          pi.Amount,
		ApplicationFeeAmount: pi.ApplicationFeeAmount,
		Currency:             pi.Currency,
	}
}

// resolveChargeFee 只信任 balance_transaction 上的 fee，不使用事件或客户端给出的其他金额
func (s *ReconcileService) resolveChargeFee(ctx context.Context, c *processor.Charge) (int64, error) {
	bt := c.BalanceTransaction
	if bt.Expanded != nil {
		s.feeCache.Set(bt.Expanded.ID, bt.Expanded.Fee)
		return bt.Expanded.Fee, nil
	}
	if bt.ID == "" {
		return 0, fmt.Errorf("%w: charge %s 缺少 balance_transaction", errFeeUnavailable, c.ID)
	}
	feeMinor, err := s.feeCache.GetOrLoad(ctx, bt.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errFeeUnavailable, err)
	}
	return feeMinor, nil
}

func (s *ReconcileService) loadBalanceFee(ctx context.Context, id string) (int64, error) {
	start := time.Now()
	bt, err := s.processor.RetrieveBalanceTransaction(ctx, id)
	s.metrics.ObserveProcessor("retrieve_balance_transaction", start)
	if err != nil {
		return 0, err
	}
	return bt.Fee, nil
}

func isSettlementWrite(outcome string) bool {
	switch outcome {
	case model.WebhookOutcomeUpdated, model.WebhookOutcomeFallbackUpdated, model.WebhookOutcomeInserted:
		return true
	}
	return false
}

func objectRef(event *processor.Event) string {
	switch p := event.Payload.(type) {
	case processor.ChargeSucceeded:
		return p.Charge.ID
	case processor.PaymentIntentSucceeded:
		return p.Intent.ID
	case processor.PaymentIntentFailed:
		return p.Intent.ID
	case processor.AccountUpdated:
		return p.Account.ID
	}
	return ""
}
