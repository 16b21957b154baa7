package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	couponModel "entitlement_ledger/internal/domain/coupon/model"
	couponService "entitlement_ledger/internal/domain/coupon/service"
	"entitlement_ledger/internal/domain/payment/model"
	"entitlement_ledger/internal/domain/payment/repository"
	"entitlement_ledger/internal/domain/payment/strategy"
	planModel "entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/pkg/qrcode"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/metrics"

	"go.uber.org/zap"
)

// 回调处理结果，用于日志与指标
const (
	OutcomePaid           = "paid"
	OutcomeDuplicate      = "duplicate"
	OutcomeMissingOrder   = "missing_order"
	OutcomeNotSuccess     = "not_success"
	OutcomeAmountMismatch = "amount_mismatch"
	OutcomeNotPending     = "not_pending"
	OutcomeCouponConflict = "coupon_conflict"
	OutcomeBadSignature   = "bad_signature"
	OutcomeError          = "error"
)

// orderIDAttempts 同一毫秒订单号冲突时顺延的次数
const orderIDAttempts = 5

type PaymentService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.OrderView, error)
	// HandleNotify 处理网关回调；只有验签失败或可重试的内部错误返回 error
	HandleNotify(ctx context.Context, channel string, params interface{}) (string, error)
	QueryOrder(ctx context.Context, orderID, userID string) (*model.OrderStatus, error)
	RegisterStrategy(channel string, strategy strategy.PaymentStrategy)
	Channels() []string
}

// CreateOrderRequest 创建订单参数
type CreateOrderRequest struct {
	UserID   string
	Plan     string
	Channel  string
	PayType  string
	ClientIP string
}

// PlanLookup 套餐查询
type PlanLookup interface {
	Get(ctx context.Context, id string) (*planModel.Plan, error)
}

// CouponMinter 铸造并兑换券码
type CouponMinter interface {
	Mint(ctx context.Context, code, plan, origin string) (*couponModel.Coupon, error)
	Redeem(ctx context.Context, userID, code string) (*couponModel.RedeemResult, error)
	ClaimedBy(ctx context.Context, code string) (string, error)
}

// Alerter 运营告警
type Alerter interface {
	Alert(title, body string, fields map[string]string)
}

type Options struct {
	OrderTTL     time.Duration
	CouponPrefix string
	CouponSecret string
	Now          func() time.Time
}

type paymentService struct {
	repo       repository.PaymentRepository
	plans      PlanLookup
	coupons    CouponMinter
	alerts     Alerter
	strategies map[string]strategy.PaymentStrategy
	opts       Options
}

func NewPaymentService(repo repository.PaymentRepository, plans PlanLookup, coupons CouponMinter, alerts Alerter, opts Options) PaymentService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = 30 * time.Minute
	}
	opts.CouponPrefix = strings.ToUpper(opts.CouponPrefix)
	if opts.CouponPrefix == "" {
		opts.CouponPrefix = "OS"
	}
	return &paymentService{
		repo:       repo,
		plans:      plans,
		coupons:    coupons,
		alerts:     alerts,
		strategies: make(map[string]strategy.PaymentStrategy),
		opts:       opts,
	}
}

// RegisterStrategy 注册支付策略
func (s *paymentService) RegisterStrategy(channel string, strategy strategy.PaymentStrategy) {
	s.strategies[channel] = strategy
}

func (s *paymentService) Channels() []string {
	channels := make([]string, 0, len(s.strategies))
	for c := range s.strategies {
		channels = append(channels, c)
	}
	return channels
}

func (s *paymentService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.OrderView, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if req.Channel == "" {
		req.Channel = model.ChannelEpay
	}
	gateway, ok := s.strategies[req.Channel]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unsupported payment channel %q", req.Channel))
	}

	// 1. 校验套餐并计算金额
	p, err := s.plans.Get(ctx, req.Plan)
	if err != nil {
		return nil, err
	}
	if p.IsFree() || p.Price <= 0 {
		return nil, apperr.Validation(fmt.Sprintf("plan %q is not purchasable", p.ID))
	}

	// 2. 先落库（带 TTL），再调用网关：网关超时不会留下永久 pending 订单
	order := &model.Order{
		UserID:    req.UserID,
		Plan:      p.ID,
		Amount:    p.Price,
		Channel:   req.Channel,
		PayType:   req.PayType,
		Status:    model.OrderStatusPending,
		CreatedAt: s.opts.Now().UTC(),
	}
	if err := s.createWithUniqueID(ctx, order); err != nil {
		return nil, err
	}

	// 3. 调用支付策略获取支付参数
	result, err := gateway.Pay(ctx, strategy.PayRequest{
		OrderID:  order.OrderID,
		Amount:   order.Amount,
		Subject:  p.Label,
		PayType:  req.PayType,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		logger.Log.Warn("payment gateway call failed, order left pending until TTL",
			zap.String("order_id", order.OrderID),
			zap.String("channel", req.Channel),
			zap.Error(err))
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Upstream("payment gateway failed", err)
	}

	// 4. 写回支付链接（保留 TTL）
	if _, err := s.repo.UpdateOrder(ctx, order.OrderID, func(o *model.Order) error {
		o.PayURL = result.PayURL
		o.QRContent = result.QRContent
		o.AppParams = result.AppParams
		o.TradeNo = result.TradeNo
		return nil
	}); err != nil {
		logger.Log.Warn("Failed to store pay url", zap.String("order_id", order.OrderID), zap.Error(err))
	}

	view := &model.OrderView{OrderID: order.OrderID, PayURL: result.PayURL, AppParams: result.AppParams, Amount: order.Amount}
	if result.QRContent != "" {
		if uri, err := qrcode.DataURI(result.QRContent, 0); err == nil {
			view.QRURL = uri
		} else {
			logger.Log.Warn("Failed to render payment QR", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}

	logger.Log.Info("payment order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("plan", order.Plan),
		zap.Float64("amount", order.Amount))
	return view, nil
}

// createWithUniqueID 订单号 OS<毫秒时间戳>，冲突时顺延 1ms
func (s *paymentService) createWithUniqueID(ctx context.Context, order *model.Order) error {
	ms := s.opts.Now().UnixMilli()
	for i := 0; i < orderIDAttempts; i++ {
		order.OrderID = "OS" + strconv.FormatInt(ms+int64(i), 10)
		created, err := s.repo.CreateOrder(ctx, order, s.opts.OrderTTL)
		if err != nil {
			return err
		}
		if created {
			return nil
		}
	}
	return apperr.Conflict("could not allocate order id, please retry")
}

func (s *paymentService) HandleNotify(ctx context.Context, channel string, params interface{}) (string, error) {
	outcome, err := s.handleNotify(ctx, channel, params)
	if err != nil && outcome == "" {
		outcome = OutcomeError
	}
	metrics.GetGlobalCollector().RecordWebhook(channel, outcome)
	return outcome, err
}

func (s *paymentService) handleNotify(ctx context.Context, channel string, params interface{}) (string, error) {
	gateway, ok := s.strategies[channel]
	if !ok {
		return "", apperr.NotFound(fmt.Sprintf("payment channel %q not enabled", channel))
	}

	// 1. 验签，失败时不信任任何字段
	n, err := gateway.Notify(ctx, params)
	if err != nil {
		logger.Log.Warn("payment notify rejected", zap.String("channel", channel), zap.Error(err))
		return OutcomeBadSignature, err
	}

	fields := map[string]string{"order_id": n.OrderID, "channel": channel, "trade_no": n.TradeNo}

	// 2. 读取订单
	order, found, err := s.repo.GetOrder(ctx, n.OrderID)
	if err != nil {
		return "", err
	}
	if !found {
		s.gap(OutcomeMissingOrder, "payment callback for unknown order",
			fmt.Sprintf("order %s not found (expired or never created), amount %.2f", n.OrderID, n.Amount), fields)
		return OutcomeMissingOrder, nil
	}

	// 3. 已支付：重复回调，直接确认
	if order.Status == model.OrderStatusPaid {
		if err := s.repo.Persist(ctx, order.OrderID); err != nil {
			logger.Log.Warn("Failed to persist paid order", zap.String("order_id", order.OrderID), zap.Error(err))
		}
		return OutcomeDuplicate, nil
	}

	switch n.State {
	case strategy.TradeWaiting:
		return OutcomeNotSuccess, nil
	case strategy.TradeClosed:
		s.markFailed(ctx, order.OrderID, "trade closed by gateway")
		return OutcomeNotSuccess, nil
	}

	if order.Status != model.OrderStatusPending {
		s.gap(OutcomeNotPending, "payment received for non-pending order",
			fmt.Sprintf("order %s is %s but gateway reports success", order.OrderID, order.Status), fields)
		return OutcomeNotPending, nil
	}

	// 4. 金额校验
	if math.Abs(order.Amount-n.Amount) > 0.005 {
		s.markFailed(ctx, order.OrderID, fmt.Sprintf("amount mismatch: expected %.2f got %.2f", order.Amount, n.Amount))
		s.gap(OutcomeAmountMismatch, "payment amount mismatch",
			fmt.Sprintf("order %s expected %.2f, gateway reported %.2f", order.OrderID, order.Amount, n.Amount), fields)
		return OutcomeAmountMismatch, nil
	}

	// 5. 券码由订单号确定性派生，重复铸造天然幂等
	code := couponService.DeriveCode(s.opts.CouponPrefix, s.opts.CouponSecret, order.OrderID)
	if _, err := s.coupons.Mint(ctx, code, order.Plan, "payment:"+order.OrderID); err != nil {
		return "", err
	}

	if _, err := s.coupons.Redeem(ctx, order.UserID, code); err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			return "", err
		}
		owner, ownerErr := s.coupons.ClaimedBy(ctx, code)
		if ownerErr != nil {
			return "", ownerErr
		}
		if owner != order.UserID {
			fields["code"] = code
			fields["claimed_by"] = owner
			s.gap(OutcomeCouponConflict, "payment coupon claimed by another user",
				fmt.Sprintf("coupon %s for order %s was claimed by %s", code, order.OrderID, owner), fields)
			return OutcomeCouponConflict, nil
		}
		// 券已归属本订单用户且额度已发放；未发放时 Redeem 会补发
	}

	// 6. pending -> paid，只有一个调用方能完成翻转
	paidAt := s.opts.Now().UTC()
	flipped := false
	_, err = s.repo.UpdateOrder(ctx, order.OrderID, func(o *model.Order) error {
		if o.Status != model.OrderStatusPending {
			return kv.ErrNoChange
		}
		o.Status = model.OrderStatusPaid
		o.CouponCode = code
		o.PaidAt = &paidAt
		if n.TradeNo != "" {
			o.TradeNo = n.TradeNo
		}
		flipped = true
		return nil
	})
	if errors.Is(err, repository.ErrOrderGone) {
		// 券已兑换但订单已过期，额度已到账，留给人工对账
		s.gap(OutcomeMissingOrder, "paid order expired before status flip",
			fmt.Sprintf("order %s expired after coupon %s was redeemed", order.OrderID, code), fields)
		return OutcomeMissingOrder, nil
	}
	if err != nil {
		return "", err
	}
	if err := s.repo.Persist(ctx, order.OrderID); err != nil {
		return "", err
	}
	if !flipped {
		return OutcomeDuplicate, nil
	}

	logger.Log.Info("payment reconciled",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("plan", order.Plan),
		zap.String("coupon", code))
	return OutcomePaid, nil
}

func (s *paymentService) markFailed(ctx context.Context, orderID, reason string) {
	_, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) error {
		if o.Status != model.OrderStatusPending {
			return kv.ErrNoChange
		}
		o.Status = model.OrderStatusFailed
		o.FailReason = reason
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrOrderGone) {
		logger.Log.Warn("Failed to mark order failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// gap 对账缺口：记录指标并通知运营
func (s *paymentService) gap(reason, title, body string, fields map[string]string) {
	metrics.GetGlobalCollector().RecordReconciliationGap(reason)
	if s.alerts != nil {
		s.alerts.Alert(title, body, fields)
		return
	}
	logger.Log.Warn(title, zap.String("detail", body))
}

func (s *paymentService) QueryOrder(ctx context.Context, orderID, userID string) (*model.OrderStatus, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("orderId and userId are required")
	}
	order, found, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("order not found")
	}
	if order.UserID != userID {
		return nil, apperr.Authorization("order does not belong to this user")
	}
	return &model.OrderStatus{
		OrderID:    order.OrderID,
		Status:     order.Status,
		CouponCode: order.CouponCode,
		PaidAt:     order.PaidAt,
	}, nil
}
