package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"entitlement_ledger/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Success(c, gin.H{"k": "v"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		bizCode    int
		wantStatus int
		wantCode   int
		wantMsg    string
	}{
		{"validation", apperr.Validation("malformed code"), 0, http.StatusBadRequest, ErrInvalidParam, "malformed code"},
		{"not found with biz code", apperr.NotFound("code not found"), ErrCouponNotFound, http.StatusNotFound, ErrCouponNotFound, "code not found"},
		{"conflict", apperr.Conflict("code already used"), 0, http.StatusConflict, ErrConflict, "code already used"},
		{"authorization", apperr.Authorization("not your order"), 0, http.StatusForbidden, ErrNoPermission, "not your order"},
		{"upstream", apperr.Upstream("gateway down", errors.New("dial tcp")), 0, http.StatusBadGateway, ErrGateway, "gateway down: dial tcp"},
		{"storage hides detail", apperr.Storage("kv get", errors.New("conn refused")), 0, http.StatusServiceUnavailable, ErrStorage, "storage unavailable, please retry"},
		{"plain error fails closed", errors.New("boom"), 0, http.StatusServiceUnavailable, ErrStorage, "storage unavailable, please retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			FromError(c, tt.err, tt.bizCode)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}
