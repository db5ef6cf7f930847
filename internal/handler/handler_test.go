package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuspay/internal/apperr"
	"campuspay/internal/model"
	"campuspay/internal/policy"
	"campuspay/internal/receipt"
	"campuspay/internal/service"
	"campuspay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-test-secret"

type fakeCharges struct {
	got *service.ChargeRequest
	err error
}

func (f *fakeCharges) CreateCharge(ctx context.Context, req *service.ChargeRequest) (*service.ChargeResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.ChargeResponse{
		ClientSecret:            "pi_1_secret",
		ProcessorReference:      "pi_1",
		TotalAmountMinor:        2500,
		PlatformFeeMinor:        250,
		EstimatedNetAmountMinor: 2147,
		Currency:                "USD",
	}, nil
}

type fakeWebhooks struct {
	payload []byte
	header  string
	err     error
}

func (f *fakeWebhooks) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*service.WebhookResult, error) {
	f.payload = payload
	f.header = signatureHeader
	if f.err != nil {
		return nil, f.err
	}
	return &service.WebhookResult{Received: true, EventID: "evt_1", Outcome: model.WebhookOutcomeUnmatched}, nil
}

type fakeReceipts struct{}

func (fakeReceipts) GetReceipt(ctx context.Context, settlementID, viewerID string) (*receipt.Receipt, error) {
	if settlementID != "stl-1" || viewerID != "user-payer" {
		return nil, apperr.ErrNotAccessible
	}
	return &receipt.Receipt{SettlementID: "stl-1", Role: policy.RolePayer, AmountLabel: receipt.LabelAmountPaid, AmountMinor: 2500}, nil
}

func (fakeReceipts) ListReceipts(ctx context.Context, viewerID, role string, page, pageSize int) (*service.ReceiptPage, error) {
	if role == "admin" {
		return nil, apperr.Wrap(apperr.ErrInvalidRequest, "role 只能是 payer 或 payee")
	}
	return &service.ReceiptPage{Items: []*receipt.Receipt{}, Page: page, PageSize: pageSize}, nil
}

type testServer struct {
	engine   *gin.Engine
	charges  *fakeCharges
	webhooks *fakeWebhooks
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{charges: &fakeCharges{}, webhooks: &fakeWebhooks{}}
	h := NewHandler(s.charges, s.webhooks, fakeReceipts{}, health, Options{WebhookBodyLimit: 1024})
	s.engine = SetupRouter(h, RouterOptions{JWTSecret: testSecret, Gatherer: prometheus.NewRegistry()})
	return s
}

func (s *testServer) do(t *testing.T, method, path, userID string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := IssueToken(testSecret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateCharge(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/charges", "user-payer", []byte(`{"job_id":"job-1","payer_id":"someone-else"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "job-1", s.charges.got.JobID)
	assert.Equal(t, "user-payer", s.charges.got.PayerID, "payer comes from the token, never the body")

	body := decode(t, w)
	assert.Equal(t, response.CodeSuccess, body.Code)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "pi_1_secret", data["client_secret"])
	assert.EqualValues(t, 2147, data["estimated_net_amount_minor"])
}

func TestCreateCharge_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/charges", "user-payer", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.charges.err = apperr.Wrap(apperr.ErrPayeeNotReady, "接单人尚未完成收款设置")
	w = s.do(t, http.MethodPost, "/api/v1/charges", "user-payer", []byte(`{"job_id":"job-1"}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.CodePayeeNotReady, decode(t, w).Code)

	s.charges.err = &apperr.ProcessorError{Message: "Your card was declined.", StatusCode: http.StatusPaymentRequired}
	w = s.do(t, http.MethodPost, "/api/v1/charges", "user-payer", []byte(`{"job_id":"job-1"}`), nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "Your card was declined.", decode(t, w).Message)
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/charges", "", []byte(`{"job_id":"job-1"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/charges", "", []byte(`{"job_id":"job-1"}`), map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := IssueToken("other-secret", "user-payer", time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/charges", "", []byte(`{"job_id":"job-1"}`), map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := IssueToken(testSecret, "user-payer", -time.Minute)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/charges", "", []byte(`{"job_id":"job-1"}`), map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Nil(t, s.charges.got)
}

func TestReceiptEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/settlements/stl-1/receipt", "user-payer", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, "amount_paid", data["amount_label"])

	stranger := s.do(t, http.MethodGet, "/api/v1/settlements/stl-1/receipt", "user-stranger", nil, nil)
	missing := s.do(t, http.MethodGet, "/api/v1/settlements/stl-missing/receipt", "user-payer", nil, nil)
	assert.Equal(t, http.StatusNotFound, stranger.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Body.String(), stranger.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/settlements?role=payer&page=2", "user-payer", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w).Data.(map[string]interface{})["page"])

	w = s.do(t, http.MethodGet, "/api/v1/settlements?role=admin", "user-payer", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessorWebhook(t *testing.T) {
	s := newTestServer(t, nil)
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)

	w := s.do(t, http.MethodPost, "/api/v1/webhooks/processor", "", payload, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, s.webhooks.payload, "the raw body reaches the verifier untouched")
	assert.Equal(t, "t=1,v1=abc", s.webhooks.header)

	var ack service.WebhookResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.True(t, ack.Received)
	assert.Equal(t, model.WebhookOutcomeUnmatched, ack.Outcome)

	s.webhooks.err = fmt.Errorf("%w: no valid signature", apperr.ErrSignature)
	w = s.do(t, http.MethodPost, "/api/v1/webhooks/processor", "", payload, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.webhooks.err = apperr.ErrMisconfigured
	w = s.do(t, http.MethodPost, "/api/v1/webhooks/processor", "", payload, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	s.webhooks.err = nil
	w = s.do(t, http.MethodPost, "/api/v1/webhooks/processor", "", []byte(strings.Repeat("x", 2048)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestServer(t, func(ctx context.Context) error { return errors.New("db down") })
	w = down.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
