package plan

import (
	"entitlement_ledger/internal/domain/plan/handler"
	"entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/domain/plan/repository"
	"entitlement_ledger/internal/domain/plan/service"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"
	"entitlement_ledger/pkg/kv"

	"github.com/gin-gonic/gin"
)

// PlanModule 套餐目录模块
type PlanModule struct{}

func init() {
	registry.Register(&PlanModule{})
}

func (m *PlanModule) Name() string {
	return "plan"
}

func (m *PlanModule) Priority() int {
	// 其他模块都读取套餐目录，且请求级缓存中间件需最先挂载
	return 1
}

func (m *PlanModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	pService := NewService(ctx.Store)
	pHandler := handler.NewPlanHandler(pService)

	// 2. 路由注册
	ctx.Router.Use(handler.CatalogMiddleware())
	setupRoutes(ctx.Router, pHandler)

	return nil
}

// NewService 按全局配置构建套餐服务，供依赖目录的模块复用
func NewService(store kv.Store) service.PlanService {
	return service.NewPlanService(
		repository.NewPlanRepository(store),
		SeedPlans(config.GlobalConfig.Plans),
		config.GlobalConfig.Quota.DefaultDailyFree,
	)
}

func setupRoutes(r *gin.Engine, h *handler.PlanHandler) {
	r.GET("/plans", h.ListPlans)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.PUT("/plans", h.ReplacePlans)
	}
}

// SeedPlans 配置中的默认套餐转换为目录条目
func SeedPlans(seeds []config.PlanSeed) []model.Plan {
	plans := make([]model.Plan, 0, len(seeds))
	for _, s := range seeds {
		plans = append(plans, model.Plan{
			ID:             s.ID,
			Label:          s.Label,
			ChatQuota:      s.ChatQuota,
			ImageQuota:     s.ImageQuota,
			DurationDays:   s.DurationDays,
			DailyFreeLimit: s.DailyFreeLimit,
			Price:          s.Price,
		})
	}
	return plans
}
