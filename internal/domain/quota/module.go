package quota

import (
	"entitlement_ledger/internal/domain/plan"
	"entitlement_ledger/internal/domain/quota/handler"
	"entitlement_ledger/internal/domain/quota/repository"
	"entitlement_ledger/internal/domain/quota/service"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// QuotaModule 额度模块
type QuotaModule struct{}

func init() {
	registry.Register(&QuotaModule{})
}

func (m *QuotaModule) Name() string {
	return "quota"
}

func (m *QuotaModule) Priority() int {
	return 5
}

func (m *QuotaModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	qService := NewService(ctx)
	qHandler := handler.NewQuotaHandler(qService)

	// 2. 路由注册
	setupRoutes(ctx.Router, qHandler)

	return nil
}

// NewService 构建额度服务，优惠券、支付、邀请模块共用
func NewService(ctx *registry.ModuleContext) service.QuotaService {
	cfg := config.GlobalConfig.Quota
	return service.NewQuotaService(
		repository.NewQuotaRepository(ctx.Store),
		plan.NewService(ctx.Store),
		service.Options{
			Location:            cfg.Location(),
			FreeTrialDays:       cfg.FreeTrialDays,
			FreeLimitAfterTrial: cfg.FreeLimitAfterTrial,
			Now:                 ctx.Clock(),
		},
	)
}

func setupRoutes(r *gin.Engine, h *handler.QuotaHandler) {
	g := r.Group("/quota")
	g.Use(middleware.AuthMiddleware())
	{
		g.POST("/query", h.Query)
		g.POST("/consume", h.Consume)
	}

	// 注册标记只由账号系统写入
	users := r.Group("/users")
	users.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		users.POST("/register", h.Register)
	}

	admin := r.Group("/admin/quota")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/lock", h.Lock)
		admin.POST("/unlock", h.Unlock)
	}
}
