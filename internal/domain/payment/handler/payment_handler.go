package handler

import (
	"net/http"

	"entitlement_ledger/internal/domain/payment/model"
	"entitlement_ledger/internal/domain/payment/service"
	"entitlement_ledger/internal/pkg/middleware"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service service.PaymentService
}

func NewPaymentHandler(s service.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: s}
}

type CreateOrderInput struct {
	UserID  string `json:"userId" binding:"required"`
	Plan    string `json:"plan" binding:"required"`
	PayType string `json:"payType"`
	Channel string `json:"channel" binding:"omitempty,oneof=epay alipay wechat"`
}

// CreateOrder 创建订单
// @Summary 创建订单
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param input body CreateOrderInput true "Order Info"
// @Success 200 {object} response.Response{data=model.OrderView}
// @Failure 502 {object} response.Response "gateway unavailable"
// @Router /payment/order [post]
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !middleware.RequireSelf(c, input.UserID) {
		return
	}

	view, err := h.service.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		UserID:   input.UserID,
		Plan:     input.Plan,
		Channel:  input.Channel,
		PayType:  input.PayType,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		code := 0
		if apperr.KindOf(err) == apperr.KindUpstream {
			code = response.ErrGateway
		}
		response.FromError(c, err, code)
		return
	}
	response.Success(c, view)
}

// QueryOrder 查询订单状态
// @Summary 查询订单状态
// @Tags Payment
// @Produce json
// @Param id path string true "Order ID"
// @Security BearerAuth
// @Param userId query string false "User ID, defaults to the token user"
// @Success 200 {object} response.Response{data=model.OrderStatus}
// @Failure 403 {object} response.Response "not order owner"
// @Failure 404 {object} response.Response "order not found"
// @Router /payment/order/{id} [get]
func (h *PaymentHandler) QueryOrder(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = c.GetString("userID")
	}
	if !middleware.RequireSelf(c, userID) {
		return
	}

	status, err := h.service.QueryOrder(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		code := 0
		switch apperr.KindOf(err) {
		case apperr.KindNotFound:
			code = response.ErrOrderNotFound
		case apperr.KindAuthorization:
			code = response.ErrOrderNotOwner
		}
		response.FromError(c, err, code)
		return
	}
	response.Success(c, status)
}

// EpayNotify 聚合支付回调，GET/POST 均可
// @Summary 聚合支付回调
// @Tags Payment
// @Router /payment/notify/epay [post]
func (h *PaymentHandler) EpayNotify(c *gin.Context) {
	_ = c.Request.ParseForm()
	h.plainNotify(c, model.ChannelEpay)
}

// AlipayNotify 支付宝回调
// @Summary 支付宝回调
// @Tags Payment
// @Router /payment/notify/alipay [post]
func (h *PaymentHandler) AlipayNotify(c *gin.Context) {
	// 支付宝回调是 POST Form 格式
	_ = c.Request.ParseForm()
	h.plainNotify(c, model.ChannelAlipay)
}

// plainNotify 纯文本应答：success 表示已受理，fail 让网关重试
func (h *PaymentHandler) plainNotify(c *gin.Context, channel string) {
	outcome, err := h.service.HandleNotify(c.Request.Context(), channel, c.Request.Form)
	if err != nil {
		logger.Log.Warn("payment notify failed",
			zap.String("channel", channel),
			zap.String("outcome", outcome),
			zap.Error(err))
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

// WechatNotify 微信支付回调
// @Summary 微信支付回调
// @Tags Payment
// @Router /payment/notify/wechat [post]
func (h *PaymentHandler) WechatNotify(c *gin.Context) {
	// 微信支付回调需要从 Header 获取签名信息，传递 *http.Request 给 Strategy 处理
	outcome, err := h.service.HandleNotify(c.Request.Context(), model.ChannelWechat, c.Request)
	if err != nil {
		logger.Log.Warn("payment notify failed",
			zap.String("channel", model.ChannelWechat),
			zap.String("outcome", outcome),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": apperr.MessageOf(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS"})
}
