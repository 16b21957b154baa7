package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "entitlement_ledger/internal/domain/common"
	_ "entitlement_ledger/internal/domain/coupon"
	_ "entitlement_ledger/internal/domain/payment"
	_ "entitlement_ledger/internal/domain/plan"
	_ "entitlement_ledger/internal/domain/quota"
	_ "entitlement_ledger/internal/domain/referral"
	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/internal/pkg/push"
	"entitlement_ledger/internal/pkg/registry"
	"entitlement_ledger/internal/pkg/worker"
	"entitlement_ledger/pkg/database"
	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @title Entitlement Ledger API
// @version 1.0
// @description 额度、兑换码、支付对账与邀请奖励接口
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// 1. 加载配置
	config.LoadConfig()
	cfg := config.GlobalConfig

	// 2. 初始化日志
	if err := logger.InitLogger(cfg.App.Env, cfg.App.Debug); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 3. 初始化存储
	rdb, err := database.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	store := kv.NewRedisStore(rdb, cfg.Redis.KeyPrefix)

	// 4. 运营告警：未配置推送时只记录日志
	var sender worker.Sender
	if cfg.Push.AccessKeyID != "" {
		pushService, err := push.NewAliyunPushService(cfg.Push)
		if err != nil {
			logger.Log.Error("Failed to init push service, alerts will only be logged", zap.Error(err))
		} else {
			sender = pushService
		}
	}
	alerts := worker.NewAlertPool(sender, store, 4, 256)
	alerts.Start()

	// 5. 路由与中间件
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(corsMiddleware(cfg.Server.AllowOrigins))
	// 支付回调由网关集中发出，不按来源 IP 限流
	r.Use(middleware.NewRateLimiter(store, "api", cfg.RateLimit.Requests, cfg.RateLimit.Window).
		Skip("/payment/notify/").
		Middleware())

	// 6. 初始化所有模块
	ctx := &registry.ModuleContext{
		Store:  store,
		Redis:  rdb,
		Router: r,
		Alerts: alerts,
	}
	if err := registry.InitModules(ctx); err != nil {
		logger.Log.Fatal("Failed to init modules", zap.Error(err))
	}

	// 7. 启动服务，收到信号后优雅退出
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
	// 先停 HTTP 再停告警池，保证在途请求的告警能入队
	alerts.Stop()
	logger.Log.Info("Server exited")
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-Trace-ID")
	cfg.ExposeHeaders = []string{"X-Trace-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	return cors.New(cfg)
}
