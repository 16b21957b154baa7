package payment

import (
	"context"

	"entitlement_ledger/internal/domain/coupon"
	"entitlement_ledger/internal/domain/payment/handler"
	"entitlement_ledger/internal/domain/payment/model"
	"entitlement_ledger/internal/domain/payment/repository"
	"entitlement_ledger/internal/domain/payment/service"
	"entitlement_ledger/internal/domain/payment/strategy"
	"entitlement_ledger/internal/domain/plan"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"
	"entitlement_ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentModule 支付对账模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 支付模块依赖套餐、额度、兑换码模块，所以优先级较低
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig

	// 1. 依赖注入
	pService := service.NewPaymentService(
		repository.NewPaymentRepository(ctx.Store),
		plan.NewService(ctx.Store),
		coupon.NewService(ctx, nil),
		ctx.Alerts,
		service.Options{
			OrderTTL:     cfg.Payment.OrderTTL,
			CouponPrefix: cfg.Coupon.Prefix,
			CouponSecret: cfg.Payment.CouponSecret,
			Now:          ctx.Clock(),
		},
	)

	// 2. 注册支付策略
	registerStrategies(pService, cfg.Payment)
	if len(pService.Channels()) == 0 {
		logger.Log.Warn("No payment channel configured, order creation will be rejected")
	}

	pHandler := handler.NewPaymentHandler(pService)

	// 3. 路由注册
	setupRoutes(ctx.Router, pHandler)

	return nil
}

func registerStrategies(s service.PaymentService, cfg config.PaymentConfig) {
	// 聚合支付
	if cfg.Epay.PID != "" {
		epay, err := strategy.NewEpayStrategy(cfg.Epay)
		if err != nil {
			logger.Log.Error("Failed to init Epay strategy", zap.Error(err))
		} else {
			s.RegisterStrategy(model.ChannelEpay, epay)
		}
	}

	// 支付宝
	if cfg.Alipay.AppID != "" {
		alipay, err := strategy.NewAlipayStrategy(cfg.Alipay)
		if err != nil {
			logger.Log.Error("Failed to init Alipay strategy", zap.Error(err))
		} else {
			s.RegisterStrategy(model.ChannelAlipay, alipay)
		}
	}

	// 微信支付
	if cfg.Wechat.MchID != "" {
		wechat, err := strategy.NewWechatStrategy(context.Background(), cfg.Wechat)
		if err != nil {
			logger.Log.Error("Failed to init Wechat strategy", zap.Error(err))
		} else {
			s.RegisterStrategy(model.ChannelWechat, wechat)
		}
	}
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	g := r.Group("/payment")

	order := g.Group("/order")
	order.Use(middleware.AuthMiddleware())
	{
		order.POST("", h.CreateOrder)
		order.GET("/:id", h.QueryOrder)
	}

	// 支付回调 (无需鉴权，但需验签)
	g.GET("/notify/epay", h.EpayNotify)
	g.POST("/notify/epay", h.EpayNotify)
	g.POST("/notify/alipay", h.AlipayNotify)
	g.POST("/notify/wechat", h.WechatNotify)
}
