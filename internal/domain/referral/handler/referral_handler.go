package handler

import (
	"net/http"

	"entitlement_ledger/internal/domain/referral/service"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	service service.ReferralService
}

func NewReferralHandler(s service.ReferralService) *ReferralHandler {
	return &ReferralHandler{service: s}
}

type UserInput struct {
	UserID string `json:"userId" binding:"required"`
}

type ClaimInput struct {
	UserID    string `json:"userId" binding:"required"`
	ShareCode string `json:"shareCode" binding:"required"`
}

// Generate 获取或生成分享码
// @Summary 获取分享码
// @Tags Referral
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body UserInput true "User"
// @Success 200 {object} response.Response{data=map[string]string}
// @Failure 403 {object} response.Response "unregistered user"
// @Router /referral/generate [post]
func (h *ReferralHandler) Generate(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	code, err := h.service.GenerateShareCode(c.Request.Context(), input.UserID)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, gin.H{"code": code})
}

// Claim 领取邀请奖励
// @Summary 领取邀请奖励
// @Tags Referral
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body ClaimInput true "Claim"
// @Success 200 {object} response.Response{data=model.ClaimResult}
// @Failure 409 {object} response.Response "already claimed"
// @Failure 429 {object} response.Response "ip limit"
// @Router /referral/claim [post]
func (h *ReferralHandler) Claim(c *gin.Context) {
	var input ClaimInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	result, err := h.service.Claim(c.Request.Context(), input.UserID, input.ShareCode, c.ClientIP())
	if err != nil {
		code := 0
		if service.IsRejection(err) {
			code = response.ErrReferralRejected
		}
		response.FromError(c, err, code)
		return
	}
	response.Success(c, result)
}

// Stats 分享码统计
// @Summary 分享码统计
// @Tags Referral
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body UserInput true "User"
// @Success 200 {object} response.Response{data=model.Stats}
// @Router /referral/stats [post]
func (h *ReferralHandler) Stats(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), input.UserID)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, stats)
}
