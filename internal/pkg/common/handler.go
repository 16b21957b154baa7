package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"entitlement_ledger/internal/pkg/worker"
	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CommonHandler 健康检查与运维接口
type CommonHandler struct {
	store kv.Store
}

func NewCommonHandler(store kv.Store) *CommonHandler {
	return &CommonHandler{store: store}
}

// Health 健康检查
// @Summary 健康检查
// @Tags Common
// @Produce json
// @Success 200 {object} response.Response{data=map[string]string}
// @Failure 503 {object} response.Response "storage unavailable"
// @Router /health [get]
func (h *CommonHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.Log.Warn("Health check failed", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, response.ErrStorage, "storage unavailable")
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// DeadLetters 查看投递失败的运营告警
// @Summary 死信告警
// @Tags Common
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Limit" default(50)
// @Success 200 {object} response.Response{data=[]worker.AlertTask}
// @Router /admin/alerts/dead [get]
func (h *CommonHandler) DeadLetters(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 1000 {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "limit must be between 1 and 1000")
		return
	}

	tasks, err := worker.DeadLetters(c.Request.Context(), h.store, limit)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, tasks)
}
