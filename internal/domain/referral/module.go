package referral

import (
	"entitlement_ledger/internal/domain/quota"
	"entitlement_ledger/internal/domain/referral/handler"
	"entitlement_ledger/internal/domain/referral/model"
	"entitlement_ledger/internal/domain/referral/repository"
	"entitlement_ledger/internal/domain/referral/service"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// ReferralModule 邀请奖励模块
type ReferralModule struct{}

func init() {
	registry.Register(&ReferralModule{})
}

func (m *ReferralModule) Name() string {
	return "referral"
}

func (m *ReferralModule) Priority() int {
	return 30
}

func (m *ReferralModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig

	// 1. 依赖注入
	rService := service.NewReferralService(
		repository.NewReferralRepository(ctx.Store),
		quota.NewService(ctx),
		ctx.Alerts,
		service.Options{
			Location:     cfg.Quota.Location(),
			MaxClaims:    cfg.Referral.MaxClaims,
			IPDailyLimit: cfg.Referral.IPDailyLimit,
			Referrer:     reward(cfg.Referral.Referrer),
			Referee:      reward(cfg.Referral.Referee),
			Now:          ctx.Clock(),
		},
	)
	rHandler := handler.NewReferralHandler(rService)

	// 2. 路由注册
	setupRoutes(ctx.Router, rHandler)

	return nil
}

func reward(c config.RewardConfig) model.Reward {
	return model.Reward{Plan: c.Plan, Chat: c.Chat, Image: c.Image, Days: c.Days}
}

func setupRoutes(r *gin.Engine, h *handler.ReferralHandler) {
	g := r.Group("/referral")
	g.Use(middleware.AuthMiddleware())
	{
		g.POST("/generate", h.Generate)
		g.POST("/claim", h.Claim)
		g.POST("/stats", h.Stats)
	}
}
