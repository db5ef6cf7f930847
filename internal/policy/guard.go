// Package policy 结算记录的访问控制与扣款前的双方资格校验
package policy

import (
	"context"
	"log/slog"

	"campuspay/internal/apperr"
	"campuspay/internal/model"
)

type Role string

const (
	RolePayer Role = "payer"
	RolePayee Role = "payee"
)

// BlockChecker 双向屏蔽关系查询
type BlockChecker interface {
	IsBlockedPair(ctx context.Context, userA, userB string) (bool, error)
}

type Guard struct {
	blocks BlockChecker
}

func NewGuard(blocks BlockChecker) *Guard {
	return &Guard{blocks: blocks}
}

// CheckCharge 扣款前校验：任一方被封禁、或双方存在屏蔽关系时拒绝
//
// 屏蔽关系查询失败时按拒绝处理（fail closed）
func (g *Guard) CheckCharge(ctx context.Context, payer, payee *model.User) error {
	if payer.Banned {
		return apperr.Wrap(apperr.ErrForbidden, "您的账号已被限制付款")
	}
	if payee.Banned {
		return apperr.Wrap(apperr.ErrForbidden, "接单人账号已被限制收款")
	}

	blocked, err := g.blocks.IsBlockedPair(ctx, payer.ID, payee.ID)
	if err != nil {
		slog.ErrorContext(ctx, "[Guard] 查询屏蔽关系失败", "payer_id", payer.ID, "payee_id", payee.ID, "error", err)
		return apperr.Wrap(apperr.ErrForbidden, "暂时无法完成付款校验，请稍后重试")
	}
	if blocked {
		return apperr.Wrap(apperr.ErrForbidden, "双方存在屏蔽关系，无法付款")
	}
	return nil
}

// RoleOf 查看者在结算记录中的角色，不是任何一方时返回 ErrForbidden
func RoleOf(rec *model.SettlementRecord, viewerID string) (Role, error) {
	switch {
	case viewerID == "":
		return "", apperr.ErrForbidden
	case viewerID == rec.PayerID:
		return RolePayer, nil
	case viewerID == rec.PayeeID:
		return RolePayee, nil
	}
	return "", apperr.ErrForbidden
}

// CheckRead 只有付款方和收款方可以读取结算记录
func CheckRead(rec *model.SettlementRecord, viewerID string) error {
	_, err := RoleOf(rec, viewerID)
	return err
}
