package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	couponRepo "entitlement_ledger/internal/domain/coupon/repository"
	couponService "entitlement_ledger/internal/domain/coupon/service"
	"entitlement_ledger/internal/domain/payment/model"
	"entitlement_ledger/internal/domain/payment/repository"
	"entitlement_ledger/internal/domain/payment/strategy"
	planModel "entitlement_ledger/internal/domain/plan/model"
	planRepo "entitlement_ledger/internal/domain/plan/repository"
	planService "entitlement_ledger/internal/domain/plan/service"
	quotaModel "entitlement_ledger/internal/domain/quota/model"
	quotaRepo "entitlement_ledger/internal/domain/quota/repository"
	quotaService "entitlement_ledger/internal/domain/quota/service"
	"entitlement_ledger/internal/testutil"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-secret"

var testPlans = []planModel.Plan{
	{ID: "free", Label: "免费版", DailyFreeLimit: 5},
	{ID: "trial", Label: "体验卡", ChatQuota: 100, ImageQuota: 10, DurationDays: 3, Price: 1.99},
	{ID: "monthly", Label: "月卡", ChatQuota: 500, ImageQuota: 50, DurationDays: 30, Price: 19.9},
}

// MockGateway 支付网关 mock
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Pay(ctx context.Context, req strategy.PayRequest) (*strategy.PayResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*strategy.PayResult), args.Error(1)
}

// Notify 测试中直接把 *strategy.Notification 当作已验签的回调参数
func (m *MockGateway) Notify(ctx context.Context, params interface{}) (*strategy.Notification, error) {
	if n, ok := params.(*strategy.Notification); ok {
		return n, nil
	}
	return nil, strategy.ErrSignature
}

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Alert(title, body string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

type fixture struct {
	svc     PaymentService
	gateway *MockGateway
	quota   quotaService.QuotaService
	coupons couponService.CouponService
	repo    repository.PaymentRepository
	alerts  *recordingAlerter
	clock   *testutil.FixedClock
	mr      *miniredis.Miniredis
	store   kv.Store
}

// flakyGranter 前 failures 次发放失败
type flakyGranter struct {
	quotaService.QuotaService
	mu       sync.Mutex
	failures int
}

func (g *flakyGranter) Grant(ctx context.Context, userID string, req quotaModel.GrantRequest) (*quotaModel.Record, error) {
	g.mu.Lock()
	if g.failures > 0 {
		g.failures--
		g.mu.Unlock()
		return nil, apperr.Storage("kv cas", errors.New("connection reset"))
	}
	g.mu.Unlock()
	return g.QuotaService.Grant(ctx, userID, req)
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithGranter(t, nil)
}

func newFixtureWithGranter(t *testing.T, wrap func(quotaService.QuotaService) couponService.QuotaGranter) *fixture {
	t.Helper()
	store, mr := testutil.SetupTestStore(t)
	clock := testutil.NewFixedClock(time.UnixMilli(1700000000001).UTC())
	plans := planService.NewPlanService(planRepo.NewPlanRepository(store), testPlans, 5)
	quota := quotaService.NewQuotaService(quotaRepo.NewQuotaRepository(store), plans, quotaService.Options{Now: clock.Func()})
	alerts := &recordingAlerter{}
	var granter couponService.QuotaGranter = quota
	if wrap != nil {
		granter = wrap(quota)
	}
	coupons := couponService.NewCouponService(couponRepo.NewCouponRepository(store), plans, granter, alerts, nil, couponService.Options{
		Prefix:     "OS",
		IndexLimit: 100,
		MaxBatch:   50,
		Now:        clock.Func(),
	})
	repo := repository.NewPaymentRepository(store)
	svc := NewPaymentService(repo, plans, coupons, alerts, Options{
		OrderTTL:     30 * time.Minute,
		CouponPrefix: "OS",
		CouponSecret: testSecret,
		Now:          clock.Func(),
	})
	gateway := &MockGateway{}
	svc.RegisterStrategy(model.ChannelEpay, gateway)
	return &fixture{svc: svc, gateway: gateway, quota: quota, coupons: coupons, repo: repo, alerts: alerts, clock: clock, mr: mr, store: store}
}

func (f *fixture) createTrialOrder(t *testing.T, userID string) *model.OrderView {
	t.Helper()
	f.gateway.On("Pay", mock.Anything, mock.AnythingOfType("strategy.PayRequest")).
		Return(&strategy.PayResult{PayURL: "https://pay.example.com/submit?id=1", QRContent: "weixin://wxpay/bizpayurl?pr=abc"}, nil).Once()
	view, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: userID, Plan: "trial", PayType: "wxpay"})
	require.NoError(t, err)
	return view
}

func success(orderID string, amount float64) *strategy.Notification {
	return &strategy.Notification{OrderID: orderID, TradeNo: "T" + orderID, Amount: amount, State: strategy.TradeSuccess}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	view := f.createTrialOrder(t, "u2")

	assert.Equal(t, "OS1700000000001", view.OrderID)
	assert.Equal(t, 1.99, view.Amount)
	assert.Equal(t, "https://pay.example.com/submit?id=1", view.PayURL)
	assert.Contains(t, view.QRURL, "data:image/png;base64,")

	order, found, err := f.repo.GetOrder(context.Background(), view.OrderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "u2", order.UserID)
	assert.Equal(t, "https://pay.example.com/submit?id=1", order.PayURL)
	assert.Equal(t, 30*time.Minute, f.mr.TTL(testutil.TestKeyPrefix+"order:"+view.OrderID))
}

func TestCreateOrder_AppPayParams(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("Pay", mock.Anything, mock.AnythingOfType("strategy.PayRequest")).
		Return(&strategy.PayResult{AppParams: "app_id=2021&biz_content=%7B%7D&sign=abc"}, nil).Once()

	view, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: "u2", Plan: "trial", PayType: "app"})
	require.NoError(t, err)
	assert.Empty(t, view.PayURL)
	assert.Empty(t, view.QRURL)
	assert.Equal(t, "app_id=2021&biz_content=%7B%7D&sign=abc", view.AppParams)

	order, found, err := f.repo.GetOrder(context.Background(), view.OrderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, view.AppParams, order.AppParams)
}

func TestCreateOrder_SameMillisecond(t *testing.T) {
	f := newFixture(t)
	first := f.createTrialOrder(t, "u1")
	second := f.createTrialOrder(t, "u2")

	assert.Equal(t, "OS1700000000001", first.OrderID)
	assert.Equal(t, "OS1700000000002", second.OrderID)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, CreateOrderRequest{Plan: "trial"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: "u1", Plan: "free"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: "u1", Plan: "lifetime"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: "u1", Plan: "trial", Channel: model.ChannelWechat})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	f.gateway.AssertNotCalled(t, "Pay", mock.Anything, mock.Anything)
}

func TestCreateOrder_GatewayFailureLeavesPendingWithTTL(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("Pay", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: i/o timeout")).Once()

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: "u1", Plan: "trial"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))

	order, found, err := f.repo.GetOrder(context.Background(), "OS1700000000001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, f.mr.TTL(testutil.TestKeyPrefix+"order:OS1700000000001") > 0)
}

func TestHandleNotify_DuplicateCallbackGrantsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u2")
	require.Equal(t, "OS1700000000001", view.OrderID)

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	outcome, err = f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	rec, err := f.quota.Query(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "trial", rec.Plan)
	assert.Equal(t, 100, rec.ChatRemaining)
	assert.Equal(t, 10, rec.ImageRemaining)

	code := couponService.DeriveCode("OS", testSecret, view.OrderID)
	assert.Equal(t, code, rec.RedeemCode)
	coupons, total, err := f.coupons.List(ctx, "payment:"+view.OrderID, utils.Pagination{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, coupons, 1)
	assert.Equal(t, code, coupons[0].Code)

	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u2")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, status.Status)
	assert.Equal(t, code, status.CouponCode)
	require.NotNil(t, status.PaidAt)

	// 已支付订单不再过期
	assert.Equal(t, time.Duration(0), f.mr.TTL(testutil.TestKeyPrefix+"order:"+view.OrderID))
	assert.Zero(t, f.alerts.count())
}

func TestHandleNotify_ConcurrentCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u3")

	var wg sync.WaitGroup
	outcomes := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
			// 发放进行中的投递要求网关重试
			if err != nil {
				assert.ErrorIs(t, err, couponService.ErrGrantPending)
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	paid := 0
	for o := range outcomes {
		if o == OutcomePaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)

	rec, err := f.quota.Query(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.ChatRemaining)

	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u3")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, status.Status)
	assert.Zero(t, f.alerts.count())
}

func TestHandleNotify_MissingOrderAcknowledgedWithAlert(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.HandleNotify(context.Background(), model.ChannelEpay, success("OS1699999999999", 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingOrder, outcome)
	assert.Equal(t, []string{"payment callback for unknown order"}, f.alerts.titles)
}

func TestHandleNotify_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u4")

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 0.01))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	assert.Equal(t, 1, f.alerts.count())

	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u4")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, status.Status)

	lookup, err := f.quota.Get(ctx, "u4")
	require.NoError(t, err)
	assert.False(t, lookup.Present)

	// 失败订单再收到成功回调只告警
	outcome, err = f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotPending, outcome)
	assert.Equal(t, 2, f.alerts.count())
}

func TestHandleNotify_TradeStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u5")

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, &strategy.Notification{OrderID: view.OrderID, Amount: 1.99, State: strategy.TradeWaiting})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotSuccess, outcome)
	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u5")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, status.Status)

	outcome, err = f.svc.HandleNotify(ctx, model.ChannelEpay, &strategy.Notification{OrderID: view.OrderID, Amount: 1.99, State: strategy.TradeClosed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotSuccess, outcome)
	status, err = f.svc.QueryOrder(ctx, view.OrderID, "u5")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, status.Status)
}

func TestHandleNotify_BadSignature(t *testing.T) {
	f := newFixture(t)
	view := f.createTrialOrder(t, "u6")

	outcome, err := f.svc.HandleNotify(context.Background(), model.ChannelEpay, map[string]string{"out_trade_no": view.OrderID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, strategy.ErrSignature))
	assert.Equal(t, OutcomeBadSignature, outcome)

	status, err := f.svc.QueryOrder(context.Background(), view.OrderID, "u6")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, status.Status)
}

func TestHandleNotify_UnknownChannel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandleNotify(context.Background(), model.ChannelAlipay, success("OS1", 1))
	require.Error(t, err)
}

func TestHandleNotify_CouponAlreadyRedeemedBySameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u7")

	// 模拟上次回调在兑换后、翻转订单前中断
	code := couponService.DeriveCode("OS", testSecret, view.OrderID)
	_, err := f.coupons.Mint(ctx, code, "trial", "payment:"+view.OrderID)
	require.NoError(t, err)
	_, err = f.coupons.Redeem(ctx, "u7", code)
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	rec, err := f.quota.Query(ctx, "u7")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.ChatRemaining)
}

func TestHandleNotify_RedeliveryAfterGrantFailureGrantsQuota(t *testing.T) {
	f := newFixtureWithGranter(t, func(q quotaService.QuotaService) couponService.QuotaGranter {
		return &flakyGranter{QuotaService: q, failures: 1}
	})
	ctx := context.Background()
	view := f.createTrialOrder(t, "u11")

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u11")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, status.Status)

	outcome, err = f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)

	rec, err := f.quota.Query(ctx, "u11")
	require.NoError(t, err)
	assert.Equal(t, "trial", rec.Plan)
	assert.Equal(t, 100, rec.ChatRemaining)
	assert.Equal(t, 10, rec.ImageRemaining)

	outcome, err = f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	rec, err = f.quota.Query(ctx, "u11")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.ChatRemaining)
}

func TestHandleNotify_CouponClaimedByOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u8")

	code := couponService.DeriveCode("OS", testSecret, view.OrderID)
	_, err := f.coupons.Mint(ctx, code, "trial", "payment:"+view.OrderID)
	require.NoError(t, err)
	_, err = f.coupons.Redeem(ctx, "intruder", code)
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotify(ctx, model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCouponConflict, outcome)
	assert.Equal(t, []string{"payment coupon claimed by another user"}, f.alerts.titles)

	status, err := f.svc.QueryOrder(ctx, view.OrderID, "u8")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, status.Status)
}

func TestHandleNotify_StorageFailureAsksForRetry(t *testing.T) {
	f := newFixture(t)
	view := f.createTrialOrder(t, "u9")
	f.mr.SetError("LOADING")

	outcome, err := f.svc.HandleNotify(context.Background(), model.ChannelEpay, success(view.OrderID, 1.99))
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)

	f.mr.SetError("")
	outcome, err = f.svc.HandleNotify(context.Background(), model.ChannelEpay, success(view.OrderID, 1.99))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, outcome)
}

func TestQueryOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTrialOrder(t, "u10")

	_, err := f.svc.QueryOrder(ctx, view.OrderID, "someone-else")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = f.svc.QueryOrder(ctx, "OS404", "u10")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.QueryOrder(ctx, "", "u10")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
