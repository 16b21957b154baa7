package coupon

import (
	"entitlement_ledger/internal/domain/coupon/handler"
	"entitlement_ledger/internal/domain/coupon/repository"
	"entitlement_ledger/internal/domain/coupon/service"
	"entitlement_ledger/internal/domain/plan"
	"entitlement_ledger/internal/domain/quota"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"
	"entitlement_ledger/internal/pkg/uploader"
	"entitlement_ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CouponModule 兑换码模块
type CouponModule struct{}

func init() {
	registry.Register(&CouponModule{})
}

func (m *CouponModule) Name() string {
	return "coupon"
}

func (m *CouponModule) Priority() int {
	return 10
}

func (m *CouponModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	var up uploader.Uploader
	if config.GlobalConfig.OSS.Endpoint != "" {
		ossUploader, err := uploader.NewAliyunOSSUploader(config.GlobalConfig.OSS)
		if err != nil {
			logger.Log.Error("Failed to init OSS uploader, coupon export disabled", zap.Error(err))
		} else {
			up = ossUploader
		}
	}

	cService := NewService(ctx, up)
	cHandler := handler.NewCouponHandler(cService)

	// 2. 路由注册
	setupRoutes(ctx.Router, cHandler)

	return nil
}

// NewService 构建兑换码服务，支付模块复用
func NewService(ctx *registry.ModuleContext, up uploader.Uploader) service.CouponService {
	cfg := config.GlobalConfig.Coupon
	return service.NewCouponService(
		repository.NewCouponRepository(ctx.Store),
		plan.NewService(ctx.Store),
		quota.NewService(ctx),
		ctx.Alerts,
		up,
		service.Options{
			Prefix:     cfg.Prefix,
			IndexLimit: cfg.IndexLimit,
			MaxBatch:   cfg.MaxBatch,
			Now:        ctx.Clock(),
		},
	)
}

func setupRoutes(r *gin.Engine, h *handler.CouponHandler) {
	r.POST("/coupons/redeem", middleware.AuthMiddleware(), h.Redeem)

	// 需要管理员权限的路由组
	admin := r.Group("/admin/coupons")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/generate", h.Generate)
		admin.GET("", h.List)
		admin.POST("/export", h.Export)
	}
}
