package handler

import (
	"net/http"

	"entitlement_ledger/internal/domain/coupon/service"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/response"
	"entitlement_ledger/pkg/utils"

	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	service service.CouponService
}

func NewCouponHandler(service service.CouponService) *CouponHandler {
	return &CouponHandler{service: service}
}

type RedeemInput struct {
	UserID string `json:"userId" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

type GenerateInput struct {
	Plan   string `json:"plan" binding:"required"`
	Count  int    `json:"count" binding:"required,min=1"`
	Origin string `json:"origin"`
}

type ExportInput struct {
	Origin string `json:"origin"`
}

// Redeem 兑换券码
// @Summary 兑换券码
// @Tags Coupon
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body RedeemInput true "Redeem"
// @Success 200 {object} response.Response{data=model.RedeemResult}
// @Failure 400 {object} response.Response "malformed code"
// @Failure 404 {object} response.Response "code not found"
// @Failure 409 {object} response.Response "code already used"
// @Router /coupons/redeem [post]
func (h *CouponHandler) Redeem(c *gin.Context) {
	var input RedeemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	result, err := h.service.Redeem(c.Request.Context(), input.UserID, input.Code)
	if err != nil {
		response.FromError(c, err, redeemCode(err))
		return
	}
	response.Success(c, result)
}

func redeemCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return response.ErrCouponMalformed
	case apperr.KindNotFound:
		return response.ErrCouponNotFound
	case apperr.KindConflict:
		return response.ErrCouponUsed
	}
	return 0
}

// Generate 管理员批量生成券码
// @Summary 批量生成券码
// @Tags Coupon
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body GenerateInput true "Generate"
// @Success 200 {object} response.Response{data=[]model.Coupon}
// @Router /admin/coupons/generate [post]
func (h *CouponHandler) Generate(c *gin.Context) {
	var input GenerateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	coupons, err := h.service.Generate(c.Request.Context(), input.Plan, input.Count, input.Origin)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, coupons)
}

// List 管理员分页查看券码（最新在前）
// @Summary 券码列表
// @Tags Coupon
// @Produce json
// @Security BearerAuth
// @Param origin query string false "来源"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /admin/coupons [get]
func (h *CouponHandler) List(c *gin.Context) {
	var page utils.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	page.GetPageOffset()

	coupons, total, err := h.service.List(c.Request.Context(), c.Query("origin"), page)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, utils.PageResult{
		List:  coupons,
		Total: total,
		Page:  page.Page,
		Limit: page.Limit,
	})
}

// Export 导出券码到对象存储
// @Summary 导出券码
// @Tags Coupon
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body ExportInput false "Export"
// @Success 200 {object} response.Response{data=service.ExportResult}
// @Router /admin/coupons/export [post]
func (h *CouponHandler) Export(c *gin.Context) {
	var input ExportInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
			return
		}
	}

	result, err := h.service.Export(c.Request.Context(), input.Origin)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, result)
}
