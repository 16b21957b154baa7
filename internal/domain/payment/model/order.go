package model

import "time"

// Order 支付订单，pending -> paid 只发生一次，paid 之后不再变化
type Order struct {
	OrderID    string     `json:"orderId"`
	UserID     string     `json:"userId"`
	Plan       string     `json:"plan"`
	Amount     float64    `json:"amount"`
	Channel    string     `json:"channel"` // epay, alipay, wechat
	PayType    string     `json:"payType"`
	Status     string     `json:"status"`
	PayURL     string     `json:"payUrl,omitempty"`
	QRContent  string     `json:"qrContent,omitempty"`
	AppParams  string     `json:"appParams,omitempty"`
	TradeNo    string     `json:"tradeNo,omitempty"`
	CouponCode string     `json:"couponCode,omitempty"`
	FailReason string     `json:"failReason,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"

	ChannelEpay   = "epay"
	ChannelAlipay = "alipay"
	ChannelWechat = "wechat"
)

// OrderView 创建订单返回给客户端的内容
type OrderView struct {
	OrderID   string  `json:"orderId"`
	PayURL    string  `json:"payUrl,omitempty"`
	QRURL     string  `json:"qrUrl,omitempty"` // PNG data URI
	AppParams string  `json:"appParams,omitempty"`
	Amount    float64 `json:"amount"`
}

// OrderStatus 订单轮询结果
type OrderStatus struct {
	OrderID    string     `json:"orderId"`
	Status     string     `json:"status"`
	CouponCode string     `json:"couponCode,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}
