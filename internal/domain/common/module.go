package common

import (
	_ "entitlement_ledger/docs"
	commonHandler "entitlement_ledger/internal/pkg/common"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// CommonModule 通用功能模块
type CommonModule struct{}

func init() {
	registry.Register(&CommonModule{})
}

func (m *CommonModule) Name() string {
	return "common"
}

func (m *CommonModule) Priority() int {
	return 100 // 最后初始化
}

func (m *CommonModule) Init(ctx *registry.ModuleContext) error {
	h := commonHandler.NewCommonHandler(ctx.Store)
	setupRoutes(ctx.Router, h)
	return nil
}

func setupRoutes(r *gin.Engine, h *commonHandler.CommonHandler) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 生产环境不暴露接口文档
	if config.GlobalConfig.App.Env != "prod" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := r.Group("/admin/alerts")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/dead", h.DeadLetters)
	}
}
