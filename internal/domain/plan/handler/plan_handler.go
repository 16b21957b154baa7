package handler

import (
	"net/http"

	"entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/domain/plan/service"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	service service.PlanService
}

func NewPlanHandler(s service.PlanService) *PlanHandler {
	return &PlanHandler{service: s}
}

// ReplacePlansInput 整体替换套餐目录
type ReplacePlansInput struct {
	Plans []model.Plan `json:"plans" binding:"required"`
}

// ListPlans 获取套餐目录
// @Summary 获取套餐目录
// @Tags Plan
// @Produce json
// @Success 200 {object} response.Response{data=model.Catalog}
// @Router /plans [get]
func (h *PlanHandler) ListPlans(c *gin.Context) {
	catalog, err := h.service.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, catalog)
}

// ReplacePlans 管理员整体替换套餐目录
// @Summary 替换套餐目录
// @Tags Plan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body ReplacePlansInput true "Plans"
// @Success 200 {object} response.Response{data=model.Catalog}
// @Router /admin/plans [put]
func (h *PlanHandler) ReplacePlans(c *gin.Context) {
	var input ReplacePlansInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	catalog, err := h.service.Replace(c.Request.Context(), input.Plans)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, catalog)
}

// CatalogMiddleware 为每个请求挂载目录缓存，同一请求内只读取一次目录
func CatalogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(service.WithCatalogCache(c.Request.Context()))
		c.Next()
	}
}
