package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"campuspay/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, err error) (int, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	FromError(c, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"not found", apperr.Wrap(apperr.ErrNotFound, "任务不存在"), http.StatusNotFound, CodeNotFound},
		{"forbidden", apperr.Wrap(apperr.ErrForbidden, "只有任务发布人可以付款"), http.StatusForbidden, CodeForbidden},
		{"invalid state", apperr.Wrap(apperr.ErrInvalidState, "x"), http.StatusConflict, CodeStateInvalid},
		{"payee not ready", apperr.Wrap(apperr.ErrPayeeNotReady, "x"), http.StatusUnprocessableEntity, CodePayeeNotReady},
		{"not accessible", apperr.ErrNotAccessible, http.StatusNotFound, CodeSettlementNotAccessible},
		{"signature", fmt.Errorf("%w: bad", apperr.ErrSignature), http.StatusBadRequest, CodeSignatureInvalid},
		{"misconfigured", apperr.ErrMisconfigured, http.StatusInternalServerError, CodeMisconfigured},
		{"invalid request", apperr.Wrap(apperr.ErrInvalidRequest, "role"), http.StatusBadRequest, CodeParamError},
		{"processor", &apperr.ProcessorError{Message: "Your card was declined.", StatusCode: http.StatusPaymentRequired}, http.StatusPaymentRequired, CodePaymentFailed},
		{"unknown", errors.New("sql: connection refused"), http.StatusInternalServerError, CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := render(t, tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestFromError_HidesInternalDetail(t *testing.T) {
	_, body := render(t, errors.New("sql: connection refused"))
	assert.NotContains(t, body.Message, "sql")

	_, body = render(t, fmt.Errorf("%w: timestamp too old", apperr.ErrSignature))
	assert.NotContains(t, body.Message, "timestamp")
}
