package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// DefaultTimeout 单次调用处理方的超时时间
const DefaultTimeout = 20 * time.Second

// Client 结算链路用到的处理方接口
type Client interface {
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
	RetrieveBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error)
}

// CreateIntentParams 目标扣款（destination charge）参数
//
// 平台账户收取全额，扣除 ApplicationFeeAmount 后自动转入 Destination
type CreateIntentParams struct {
	Amount               int64
	Currency             string
	ApplicationFeeAmount int64
	Destination          string
	Description          string
	Metadata             Metadata

	// IdempotencyKey 同一次业务请求的所有重试必须使用同一个 key
	IdempotencyKey string
}

// APIError 处理方返回的错误响应，Err 保留 SDK 的原始错误
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processor api error: status=%d type=%s", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("processor api error: status=%d type=%s: %s", e.StatusCode, e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary 限流和服务端错误可以重试，4xx 参数/卡片错误不可重试
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable 供 retry.Policy 使用：网络错误和临时性 API 错误可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

type Options struct {
	APIBase    string
	SecretKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// StripeClient 基于 stripe-go 的处理方客户端
//
// SDK 自带的网络重试关闭，重试统一由调用方的 retry.Policy 控制，保证幂等键在所有尝试中不变
type StripeClient struct {
	api *client.API
}

var _ Client = (*StripeClient)(nil)

func NewStripeClient(opts Options) *StripeClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        hc,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     slogLogger{},
	}
	if opts.APIBase != "" {
		cfg.URL = stripe.String(opts.APIBase)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	return &StripeClient{
		api: client.New(opts.SecretKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
	}
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(params.Amount),
		Currency:             stripe.String(strings.ToLower(params.Currency)),
		ApplicationFeeAmount: stripe.Int64(params.ApplicationFeeAmount),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(params.Destination),
		},
	}
	p.Context = ctx
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(p)
	if err != nil {
		return nil, wrapError(err)
	}
	if pi.ID == "" || pi.ClientSecret == "" {
		return nil, errors.New("处理方返回的 payment_intent 缺少 id 或 client_secret")
	}
	return fromStripeIntent(pi), nil
}

// RetrievePaymentIntent 查询 payment_intent，同时展开 latest_charge 便于直接取到 balance_transaction
func (c *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{}
	p.Context = ctx
	p.AddExpand("latest_charge")

	pi, err := c.api.PaymentIntents.Get(id, p)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromStripeIntent(pi), nil
}

// CancelPaymentIntent 取消尚未支付的扣款，取消后原 client_secret 无法再完成支付
func (c *StripeClient) CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	p.Context = ctx

	pi, err := c.api.PaymentIntents.Cancel(id, p)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromStripeIntent(pi), nil
}

func (c *StripeClient) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	p := &stripe.ChargeParams{}
	p.Context = ctx

	ch, err := c.api.Charges.Get(id, p)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromStripeCharge(ch), nil
}

func (c *StripeClient) RetrieveBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error) {
	p := &stripe.BalanceTransactionParams{}
	p.Context = ctx

	bt, err := c.api.BalanceTransactions.Get(id, p)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromStripeBalanceTransaction(bt), nil
}

// wrapError SDK 错误转换为 APIError，网络错误原样返回
func wrapError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("请求处理方失败: %w", err)
	}
	return &APIError{
		StatusCode: se.HTTPStatusCode,
		Type:       string(se.Type),
		Code:       string(se.Code),
		Message:    se.Msg,
		RequestID:  se.RequestID,
		Err:        se,
	}
}

func fromStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:                   pi.ID,
		Amount:               pi.Amount,
		Currency:             string(pi.Currency),
		Status:               string(pi.Status),
		ClientSecret:         pi.ClientSecret,
		ApplicationFeeAmount: pi.ApplicationFeeAmount,
		Metadata:             Metadata(pi.Metadata),
	}
	if pi.LatestCharge != nil {
		out.LatestCharge = ChargeRef{ID: pi.LatestCharge.ID}
		// 未展开时 SDK 只填充 id
		if pi.LatestCharge.Object != "" {
			out.LatestCharge.Expanded = fromStripeCharge(pi.LatestCharge)
		}
	}
	if e := pi.LastPaymentError; e != nil {
		out.LastPaymentError = &LastPaymentError{Code: string(e.Code), Message: e.Msg}
	}
	return out
}

func fromStripeCharge(ch *stripe.Charge) *Charge {
	out := &Charge{
		ID:                   ch.ID,
		Amount:               ch.Amount,
		ApplicationFeeAmount: ch.ApplicationFeeAmount,
		Currency:             string(ch.Currency),
		Status:               string(ch.Status),
		Metadata:             Metadata(ch.Metadata),
		FailureMessage:       ch.FailureMessage,
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntent = ch.PaymentIntent.ID
	}
	if bt := ch.BalanceTransaction; bt != nil {
		out.BalanceTransaction = BalanceTransactionRef{ID: bt.ID}
		if bt.Object != "" {
			out.BalanceTransaction.Expanded = fromStripeBalanceTransaction(bt)
		}
	}
	return out
}

func fromStripeBalanceTransaction(bt *stripe.BalanceTransaction) *BalanceTransaction {
	return &BalanceTransaction{
		ID:       bt.ID,
		Amount:   bt.Amount,
		Fee:      bt.Fee,
		Net:      bt.Net,
		Currency: string(bt.Currency),
	}
}

// slogLogger 把 SDK 日志转到 slog
type slogLogger struct{}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug("[Stripe] " + fmt.Sprintf(format, v...))
}

func (slogLogger) Infof(format string, v ...interface{}) {
	slog.Debug("[Stripe] " + fmt.Sprintf(format, v...))
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn("[Stripe] " + fmt.Sprintf(format, v...))
}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error("[Stripe] " + fmt.Sprintf(format, v...))
}
