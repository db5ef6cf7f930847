package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campuspay/internal/apperr"
	"campuspay/internal/policy"
	"campuspay/internal/receipt"
	"campuspay/internal/repository"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ReceiptService struct {
	settlementRepo *repository.SettlementRepository
}

func NewReceiptService(db *gorm.DB) *ReceiptService {
	return &ReceiptService{
		settlementRepo: repository.NewSettlementRepository(db),
	}
}

// GetReceipt 查看单条结算回执
//
// 【关键点】记录不存在与无权查看统一返回 ErrNotAccessible，调用方无法据此探测他人的结算记录
func (s *ReceiptService) GetReceipt(ctx context.Context, settlementID, viewerID string) (*receipt.Receipt, error) {
	rec, err := s.settlementRepo.GetByID(ctx, settlementID)
	if err != nil {
		if errors.Is(err, repository.ErrSettlementNotFound) {
			return nil, apperr.ErrNotAccessible
		}
		return nil, fmt.Errorf("查询结算记录失败: %w", err)
	}

	if err := policy.CheckRead(rec, viewerID); err != nil {
		slog.Warn("[ReceiptService] 非当事方尝试读取结算记录", "settlement_id", settlementID, "viewer_id", viewerID)
		return nil, apperr.ErrNotAccessible
	}
	r, err := receipt.Project(rec, viewerID)
	if err != nil {
		return nil, apperr.ErrNotAccessible
	}
	return r, nil
}

type ReceiptPage struct {
	Items    []*receipt.Receipt `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// ListReceipts 分页查询查看者的结算回执，role 为空时同时包含付款和收款
func (s *ReceiptService) ListReceipts(ctx context.Context, viewerID, role string, page, pageSize int) (*ReceiptPage, error) {
	switch role {
	case "", repository.PartyRolePayer, repository.PartyRolePayee:
	default:
		return nil, apperr.Wrap(apperr.ErrInvalidRequest, "role 只能是 payer 或 payee")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	records, total, err := s.settlementRepo.ListByParty(ctx, viewerID, role, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询结算列表失败: %w", err)
	}

	items := make([]*receipt.Receipt, 0, len(records))
	for _, rec := range records {
		r, err := receipt.Project(rec, viewerID)
		if err != nil {
			continue
		}
		items = append(items, r)
	}

	return &ReceiptPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}
