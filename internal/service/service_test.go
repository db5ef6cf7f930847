package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"campuspay/internal/config"
	"campuspay/internal/fee"
	"campuspay/internal/infrastructure/database"
	"campuspay/internal/model"
	"campuspay/internal/processor"
	"campuspay/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testPoster  = "user-poster"
	testPayee   = "user-payee"
	testAccount = "acct_payee"
	testJob     = "job-1"
)

var testRates = fee.Rates{
	PlatformFeePercent:  decimal.NewFromInt(10),
	ProcessorPercent:    decimal.RequireFromString("2.9"),
	ProcessorFixedMinor: 30,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:   database.DriverSQLite,
		DSN:      "file:" + name + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// seedMarketplace 发布人、已开通收款的接单人，以及一个 $25.00 进行中的任务
func seedMarketplace(t *testing.T, db *gorm.DB) {
	t.Helper()

	payee := testPayee
	require.NoError(t, db.Create(&model.User{ID: testPoster, Username: "poster"}).Error)
	require.NoError(t, db.Create(&model.User{
		ID:               testPayee,
		Username:         "worker",
		PayoutAccountRef: testAccount,
		PayoutsEnabled:   true,
	}).Error)
	require.NoError(t, db.Create(&model.Job{
		ID:               testJob,
		Title:            "Help me move",
		PriceAmount:      decimal.RequireFromString("25.00"),
		PriceCurrency:    "USD",
		Status:           model.JobStatusInProgress,
		PostedByUserID:   testPoster,
		AssignedToUserID: &payee,
	}).Error)
}

// fakeProcessor 以函数字段替换处理方的各个调用，未设置的调用返回错误
type fakeProcessor struct {
	mu sync.Mutex

	CreateFn          func(ctx context.Context, params processor.CreateIntentParams) (*processor.PaymentIntent, error)
	RetrieveIntentFn  func(ctx context.Context, id string) (*processor.PaymentIntent, error)
	CancelIntentFn    func(ctx context.Context, id string) (*processor.PaymentIntent, error)
	RetrieveChargeFn  func(ctx context.Context, id string) (*processor.Charge, error)
	RetrieveBalanceFn func(ctx context.Context, id string) (*processor.BalanceTransaction, error)

	createCalls  []processor.CreateIntentParams
	cancelCalls  []string
	balanceCalls int
}

var errNotStubbed = errors.New("not stubbed")

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, params processor.CreateIntentParams) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, params)
	f.mu.Unlock()
	if f.CreateFn == nil {
		return nil, errNotStubbed
	}
	return f.CreateFn(ctx, params)
}

func (f *fakeProcessor) RetrievePaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error) {
	if f.RetrieveIntentFn == nil {
		return nil, errNotStubbed
	}
	return f.RetrieveIntentFn(ctx, id)
}

func (f *fakeProcessor) CancelPaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	f.cancelCalls = append(f.cancelCalls, id)
	f.mu.Unlock()
	if f.CancelIntentFn == nil {
		return nil, errNotStubbed
	}
	return f.CancelIntentFn(ctx, id)
}

func (f *fakeProcessor) RetrieveCharge(ctx context.Context, id string) (*processor.Charge, error) {
	if f.RetrieveChargeFn == nil {
		return nil, errNotStubbed
	}
	return f.RetrieveChargeFn(ctx, id)
}

func (f *fakeProcessor) RetrieveBalanceTransaction(ctx context.Context, id string) (*processor.BalanceTransaction, error) {
	f.mu.Lock()
	f.balanceCalls++
	f.mu.Unlock()
	if f.RetrieveBalanceFn == nil {
		return nil, errNotStubbed
	}
	return f.RetrieveBalanceFn(ctx, id)
}

func (f *fakeProcessor) creates() []processor.CreateIntentParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processor.CreateIntentParams(nil), f.createCalls...)
}

func (f *fakeProcessor) cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelCalls...)
}

// balanceFee 所有资金流水都报告同一个实际手续费
func balanceFee(feeMinor int64) func(ctx context.Context, id string) (*processor.BalanceTransaction, error) {
	return func(ctx context.Context, id string) (*processor.BalanceTransaction, error) {
		return &processor.BalanceTransaction{ID: id, Fee: feeMinor}, nil
	}
}

type noopLocker struct{}

func (noopLocker) LockCharge(ctx context.Context, jobID, payerID, owner string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type busyLocker struct{}

func (busyLocker) LockCharge(ctx context.Context, jobID, payerID, owner string) (func(context.Context) error, error) {
	return nil, errors.New("lock busy")
}

func testChargeOptions() ChargeOptions {
	return ChargeOptions{
		Rates:           testRates,
		MinChargeMinor:  50,
		DefaultCurrency: "USD",
		ProcessorRetry: retry.Policy{
			MaxAttempts: 2,
			Backoff:     time.Millisecond,
			Retryable:   processor.IsRetryable,
		},
		PersistRetry: retry.Once(time.Millisecond),
	}
}

const testWebhookSecret = "whsec_test"

func testReconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		WebhookSecret:      testWebhookSecret,
		SignatureTolerance: processor.DefaultTolerance,
		SettlementTopic:    "settlement-result",
		PayoutAccountTopic: "payout-account",
		Rates:              testRates,
		FeeCacheTTL:        time.Minute,
	}
}

// signed 用测试密钥为事件签名，返回签名头
func signed(payload []byte) string {
	return processor.SignPayload(payload, testWebhookSecret, time.Now())
}
