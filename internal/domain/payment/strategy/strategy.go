package strategy

import (
	"context"
	"errors"
)

// ErrSignature 回调验签失败，不能信任任何字段
var ErrSignature = errors.New("payment: signature verification failed")

// TradeState 网关交易状态
type TradeState int

const (
	TradeWaiting TradeState = iota // 未支付，忽略
	TradeSuccess
	TradeClosed // 关闭或失败，订单置为 failed
)

// PayRequest 发起支付参数
type PayRequest struct {
	OrderID  string
	Amount   float64
	Subject  string
	PayType  string
	ClientIP string
}

// PayResult 网关返回的支付链接、二维码内容或 App 支付参数
type PayResult struct {
	PayURL    string
	QRContent string
	// AppParams App 支付的签名参数串，由客户端 SDK 唤起支付
	AppParams string
	TradeNo   string
}

// Notification 验签后的回调内容
type Notification struct {
	OrderID string
	TradeNo string
	Amount  float64
	State   TradeState
}

type PaymentStrategy interface {
	// Pay 发起支付，返回支付链接或二维码内容
	Pay(ctx context.Context, req PayRequest) (*PayResult, error)

	// Notify 验签并解析回调；验签失败返回 ErrSignature
	Notify(ctx context.Context, params interface{}) (*Notification, error)
}
