package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"campuspay/internal/receipt"
	"campuspay/internal/service"
	"campuspay/pkg/response"

	"github.com/gin-gonic/gin"
)

// ChargeCreator 扣款发起
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req *service.ChargeRequest) (*service.ChargeResponse, error)
}

// WebhookReconciler 回调对账
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*service.WebhookResult, error)
}

// ReceiptReader 回执查询
type ReceiptReader interface {
	GetReceipt(ctx context.Context, settlementID, viewerID string) (*receipt.Receipt, error)
	ListReceipts(ctx context.Context, viewerID, role string, page, pageSize int) (*service.ReceiptPage, error)
}

// HealthChecker 依赖探活，返回错误表示不健康
type HealthChecker func(ctx context.Context) error

type Options struct {
	SignatureHeader  string
	WebhookBodyLimit int64
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	charges  ChargeCreator
	webhooks WebhookReconciler
	receipts ReceiptReader
	health   HealthChecker
	opts     Options
}

func NewHandler(charges ChargeCreator, webhooks WebhookReconciler, receipts ReceiptReader, health HealthChecker, opts Options) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	if opts.WebhookBodyLimit <= 0 {
		opts.WebhookBodyLimit = 1 << 20
	}
	return &Handler{
		charges:  charges,
		webhooks: webhooks,
		receipts: receipts,
		health:   health,
		opts:     opts,
	}
}

// ============================================================
// 扣款
// ============================================================

type CreateChargeRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

// CreateCharge 为进行中的任务发起扣款
// POST /api/v1/charges
//
// 【关键点】付款人只能来自认证后的身份，请求体里不接受 payer_id；
// 返回 client_secret 后由客户端完成支付，任务改为 completed 要等客户端确认扣款完成后由上层执行
func (h *Handler) CreateCharge(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.charges.CreateCharge(c.Request.Context(), &service.ChargeRequest{
		JobID:   req.JobID,
		PayerID: CurrentUserID(c),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 回执
// ============================================================

// GetReceipt 查看结算回执
// GET /api/v1/settlements/:id/receipt
func (h *Handler) GetReceipt(c *gin.Context) {
	r, err := h.receipts.GetReceipt(c.Request.Context(), c.Param("id"), CurrentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, r)
}

// ListSettlements 查询当前用户的结算回执
// GET /api/v1/settlements?role=payer|payee&page=1&page_size=20
func (h *Handler) ListSettlements(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.receipts.ListReceipts(c.Request.Context(), CurrentUserID(c), c.Query("role"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 处理方回调
// ============================================================

// ProcessorWebhook 处理方回调入口
// POST /api/v1/webhooks/processor
//
// 【关键点】必须拿原始请求体验签，不能先经过 JSON 绑定；
// 验签通过后始终返回 200，只有验签失败（400）和服务配置错误（500）例外
func (h *Handler) ProcessorWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.WebhookBodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeParamError, "请求体过大")
			return
		}
		response.ParamError(c, "读取请求体失败")
		return
	}

	result, err := h.webhooks.HandleWebhook(c.Request.Context(), body, c.GetHeader(h.opts.SignatureHeader))
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ============================================================
// 健康检查
// ============================================================

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
