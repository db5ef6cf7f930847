package repository

import (
	"context"
	"errors"
	"time"

	"campuspay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSettlementNotFound = errors.New("结算记录不存在")
)

// SettlementPatch 对账时允许修改的字段，零值字段不更新
type SettlementPatch struct {
	Status              string
	ProcessorFeeMinor   *int64
	ProcessorFeePercent decimal.NullDecimal
	FailureMessage      *string

	// ExternalChargeRef 兜底匹配命中时补写处理方引用
	ExternalChargeRef string
}

func (p SettlementPatch) columns(now time.Time) map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Status != "" {
		updates["status"] = p.Status
		if p.Status == model.SettlementStatusSucceeded || p.Status == model.SettlementStatusFailed {
			updates["completed_at"] = now
		}
	}
	if p.ProcessorFeeMinor != nil {
		// 【关键点】净额在数据库内按当前行的 total / platform_fee 重算，不依赖调用方读到的旧值
		updates["processor_fee_minor"] = *p.ProcessorFeeMinor
		updates["net_amount_minor"] = gorm.Expr("total_amount_minor - platform_fee_minor - ?", *p.ProcessorFeeMinor)
	}
	if p.ProcessorFeePercent.Valid {
		updates["processor_fee_percent"] = p.ProcessorFeePercent
	}
	if p.FailureMessage != nil {
		updates["failure_message"] = *p.FailureMessage
	}
	if p.ExternalChargeRef != "" {
		updates["external_charge_ref"] = p.ExternalChargeRef
	}
	return updates
}

// SettlementRepository 结算账本，所有状态变更都是带条件的原子更新
type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// UpsertProvisional 写入扣款发起后的临时记录
//
// 同一 (job_id, payer_id) 只有一行：
//   - 不存在：插入
//   - 已存在且未成功、且引用不同：原地更新为新一次尝试（重新发起）
//   - 已存在且引用相同：幂等，不做修改
//   - 已成功：不做修改（回调可能先于本次写入到达）
//
// 返回后 rec 被刷新为数据库中的当前行
func (r *SettlementRepository) UpsertProvisional(ctx context.Context, tx *gorm.DB, rec *model.SettlementRecord) error {
	db := r.conn(tx).WithContext(ctx)

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	err := db.Model(&model.SettlementRecord{}).
		Where("job_id = ? AND payer_id = ?", rec.JobID, rec.PayerID).
		Where("status NOT IN ?", model.TerminalStatuses).
		Where("external_charge_ref <> ?", rec.ExternalChargeRef).
		Updates(map[string]interface{}{
			"payee_id":                      rec.PayeeID,
			"total_amount_minor":            rec.TotalAmountMinor,
			"platform_fee_percent":          rec.PlatformFeePercent,
			"platform_fee_minor":            rec.PlatformFeeMinor,
			"estimated_processor_fee_minor": rec.EstimatedProcessorFeeMinor,
			"processor_fee_minor":           nil,
			"processor_fee_percent":         nil,
			"net_amount_minor":              rec.NetAmountMinor,
			"currency":                      rec.Currency,
			"external_charge_ref":           rec.ExternalChargeRef,
			"status":                        model.SettlementStatusProcessing,
			"failure_message":               "",
			"completed_at":                  nil,
		}).Error
	if err != nil {
		return err
	}

	// 不能直接 First(rec)：rec 的主键非零时 gorm 会把它追加为查询条件
	var current model.SettlementRecord
	if err := db.Where("job_id = ? AND payer_id = ?", rec.JobID, rec.PayerID).First(&current).Error; err != nil {
		return err
	}
	*rec = current
	return nil
}

// InsertIfAbsent 以 (job_id, payer_id) 为自然键插入，已存在时不做任何修改
func (r *SettlementRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, rec *model.SettlementRecord) (bool, error) {
	result := r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateByReference 按处理方引用更新
//
// 【关键点】onlyIfNotTerminal 为 true 时，条件 status NOT IN (succeeded, refunded) 与更新在同一条 SQL 中完成（CAS），
// 两个并发回调只会有一个更新成功，另一个观察到 RowsAffected == 0
func (r *SettlementRepository) UpdateByReference(ctx context.Context, tx *gorm.DB, ref string, patch SettlementPatch, onlyIfNotTerminal bool) (bool, error) {
	query := r.conn(tx).WithContext(ctx).
		Model(&model.SettlementRecord{}).
		Where("external_charge_ref = ?", ref)
	return r.applyPatch(query, patch, onlyIfNotTerminal)
}

// UpdateByJobAndPayer 按 (job_id, payer_id) 兜底更新，语义同 UpdateByReference
func (r *SettlementRepository) UpdateByJobAndPayer(ctx context.Context, tx *gorm.DB, jobID, payerID string, patch SettlementPatch, onlyIfNotTerminal bool) (bool, error) {
	query := r.conn(tx).WithContext(ctx).
		Model(&model.SettlementRecord{}).
		Where("job_id = ? AND payer_id = ?", jobID, payerID)
	return r.applyPatch(query, patch, onlyIfNotTerminal)
}

func (r *SettlementRepository) applyPatch(query *gorm.DB, patch SettlementPatch, onlyIfNotTerminal bool) (bool, error) {
	updates := patch.columns(time.Now().UTC())
	if len(updates) == 0 {
		return false, nil
	}
	if onlyIfNotTerminal {
		query = query.Where("status NOT IN ?", model.TerminalStatuses)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *SettlementRepository) GetByReference(ctx context.Context, tx *gorm.DB, ref string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := r.conn(tx).WithContext(ctx).Where("external_charge_ref = ?", ref).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *SettlementRepository) GetByJobAndPayer(ctx context.Context, tx *gorm.DB, jobID, payerID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := r.conn(tx).WithContext(ctx).Where("job_id = ? AND payer_id = ?", jobID, payerID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return &rec, nil
}

const (
	PartyRolePayer = "payer"
	PartyRolePayee = "payee"
)

// ListByParty 查询用户作为付款方和/或收款方的结算记录，role 为空表示两者都要
func (r *SettlementRepository) ListByParty(ctx context.Context, userID, role string, page, pageSize int) ([]*model.SettlementRecord, int64, error) {
	var records []*model.SettlementRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SettlementRecord{})
	switch role {
	case PartyRolePayer:
		query = query.Where("payer_id = ?", userID)
	case PartyRolePayee:
		query = query.Where("payee_id = ?", userID)
	default:
		query = query.Where("payer_id = ? OR payee_id = ?", userID, userID)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// ListStaleProcessing 查询 updated_at 早于 before 仍处于 processing 的记录，供补偿任务使用
func (r *SettlementRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.SettlementRecord, error) {
	var records []*model.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.SettlementStatusProcessing, before.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// TouchProcessing 刷新仍为 processing 的记录的 updated_at，让补偿任务按时间轮转而不是反复扫描同一批
func (r *SettlementRepository) TouchProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.SettlementRecord{}).
		Where("id = ? AND status = ?", id, model.SettlementStatusProcessing).
		Update("updated_at", time.Now().UTC()).Error
}
