package handler

import (
	"net/http"

	"entitlement_ledger/internal/domain/quota/model"
	"entitlement_ledger/internal/domain/quota/service"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type QuotaHandler struct {
	service service.QuotaService
}

func NewQuotaHandler(s service.QuotaService) *QuotaHandler {
	return &QuotaHandler{service: s}
}

type UserInput struct {
	UserID string `json:"userId" binding:"required"`
}

type ConsumeInput struct {
	UserID string `json:"userId" binding:"required"`
	Kind   string `json:"kind" binding:"required,oneof=chat image"`
}

type LockInput struct {
	UserID string `json:"userId" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// ConsumeResult 消耗结果
type ConsumeResult struct {
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
	Quota   *model.Record `json:"quota,omitempty"`
}

// Query 查询额度
// @Summary 查询用户额度
// @Tags Quota
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body UserInput true "User"
// @Success 200 {object} response.Response{data=model.Record}
// @Router /quota/query [post]
func (h *QuotaHandler) Query(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	rec, err := h.service.Query(c.Request.Context(), input.UserID)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, rec)
}

// Consume 检查并扣减一次额度
// @Summary 消耗额度
// @Tags Quota
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body ConsumeInput true "Consume"
// @Success 200 {object} response.Response{data=ConsumeResult}
// @Router /quota/consume [post]
func (h *QuotaHandler) Consume(c *gin.Context) {
	var input ConsumeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	decision, rec, err := h.service.Consume(c.Request.Context(), input.UserID, model.Kind(input.Kind))
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	if !decision.Allowed {
		code := response.ErrQuotaDenied
		if decision.Locked {
			code = response.ErrUserLocked
		}
		c.JSON(http.StatusOK, response.Response{
			Code:    code,
			Message: decision.Reason,
			Data:    ConsumeResult{Allowed: false, Reason: decision.Reason},
		})
		return
	}
	response.Success(c, ConsumeResult{Allowed: true, Quota: rec})
}

// Register 写入注册标记，由账号系统以运营身份调用
// @Summary 注册用户
// @Tags Quota
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body UserInput true "User"
// @Success 200 {object} response.Response
// @Router /users/register [post]
func (h *QuotaHandler) Register(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	created, err := h.service.Register(c.Request.Context(), input.UserID)
	if err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, gin.H{"userId": input.UserID, "created": created})
}

// Lock 管理员锁定用户额度
// @Summary 锁定用户
// @Tags Quota
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body LockInput true "Lock"
// @Success 200 {object} response.Response
// @Router /admin/quota/lock [post]
func (h *QuotaHandler) Lock(c *gin.Context) {
	var input LockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.Lock(c.Request.Context(), input.UserID, input.Reason); err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, "User locked")
}

// Unlock 管理员解锁
// @Summary 解锁用户
// @Tags Quota
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body UserInput true "User"
// @Success 200 {object} response.Response
// @Router /admin/quota/unlock [post]
func (h *QuotaHandler) Unlock(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.Unlock(c.Request.Context(), input.UserID); err != nil {
		response.FromError(c, err, 0)
		return
	}
	response.Success(c, "User unlocked")
}
