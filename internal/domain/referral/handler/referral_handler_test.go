package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"entitlement_ledger/internal/domain/referral/model"
	"entitlement_ledger/internal/domain/referral/service"
	"entitlement_ledger/internal/testutil"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/response"
	"entitlement_ledger/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReferralService 邀请服务 mock
type MockReferralService struct {
	mock.Mock
}

func (m *MockReferralService) GenerateShareCode(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockReferralService) Claim(ctx context.Context, userID, shareCode, ip string) (*model.ClaimResult, error) {
	args := m.Called(ctx, userID, shareCode, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClaimResult), args.Error(1)
}

func (m *MockReferralService) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Stats), args.Error(1)
}

func newRouter(svc service.ReferralService) *gin.Engine {
	return newRouterAs(svc, "ops", utils.RoleOperator)
}

func newRouterAs(svc service.ReferralService, userID string, role int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewReferralHandler(svc)
	r := gin.New()
	r.Use(testutil.WithIdentity(userID, role))
	r.POST("/referral/generate", h.Generate)
	r.POST("/referral/claim", h.Claim)
	r.POST("/referral/stats", h.Stats)
	return r
}

func post(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:5555"
	r.ServeHTTP(w, req)
	return w
}

func TestGenerate(t *testing.T) {
	svc := new(MockReferralService)
	svc.On("GenerateShareCode", mock.Anything, "alice").Return("K7QF2M", nil)

	w := post(newRouter(svc), "/referral/generate", UserInput{UserID: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]string
	resp := response.Response{Data: &data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "K7QF2M", data["code"])
}

func TestGenerate_Unregistered(t *testing.T) {
	svc := new(MockReferralService)
	svc.On("GenerateShareCode", mock.Anything, "ghost").Return("", apperr.Authorization("only registered users can create a share code"))

	w := post(newRouter(svc), "/referral/generate", UserInput{UserID: "ghost"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClaim(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"granted", nil, http.StatusOK, response.CodeSuccess},
		{"self", service.ErrSelfReferral, http.StatusBadRequest, response.ErrReferralRejected},
		{"already claimed", service.ErrAlreadyClaimed, http.StatusConflict, response.ErrReferralRejected},
		{"ip limit", service.ErrIPLimit, http.StatusTooManyRequests, response.ErrReferralRejected},
		{"storage", apperr.Storage("kv incr", assert.AnError), http.StatusServiceUnavailable, response.ErrStorage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockReferralService)
			var result interface{}
			if tc.err == nil {
				result = &model.ClaimResult{Success: true, Message: "referral reward granted"}
			}
			svc.On("Claim", mock.Anything, "bob", "K7QF2M", "10.0.0.1").Return(result, tc.err)

			w := post(newRouter(svc), "/referral/claim", ClaimInput{UserID: "bob", ShareCode: "K7QF2M"})
			assert.Equal(t, tc.status, w.Code)

			var resp response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestStats(t *testing.T) {
	svc := new(MockReferralService)
	svc.On("Stats", mock.Anything, "alice").Return(&model.Stats{Code: "K7QF2M", ClaimedBy: []string{"bob"}, TotalRewards: 1, MaxClaims: 100}, nil)

	w := post(newRouter(svc), "/referral/stats", UserInput{UserID: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var stats model.Stats
	resp := response.Response{Data: &stats}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"bob"}, stats.ClaimedBy)
}

func TestClaim_MissingFields(t *testing.T) {
	w := post(newRouter(new(MockReferralService)), "/referral/claim", map[string]string{"userId": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaim_ForAnotherUserForbidden(t *testing.T) {
	svc := new(MockReferralService)
	w := post(newRouterAs(svc, "bob", utils.RoleUser), "/referral/claim", ClaimInput{UserID: "carol", ShareCode: "K7QF2M"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
