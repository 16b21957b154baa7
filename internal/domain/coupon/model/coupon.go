package model

import (
	"time"

	quotaModel "entitlement_ledger/internal/domain/quota/model"
)

// Coupon 兑换码，unused -> used 只发生一次
type Coupon struct {
	Code      string     `json:"code"`
	Plan      string     `json:"plan"`
	Origin    string     `json:"origin,omitempty"` // 来源标记，如 payment:<orderId>
	CreatedAt time.Time  `json:"createdAt"`
	UsedBy    *string    `json:"usedBy"`
	UsedAt    *time.Time `json:"usedAt"`
}

// Used 是否已使用
func (c *Coupon) Used() bool {
	return c.UsedBy != nil && *c.UsedBy != ""
}

// Redemption 兑换审计记录
type Redemption struct {
	Code   string    `json:"code"`
	UserID string    `json:"userId"`
	Plan   string    `json:"plan"`
	At     time.Time `json:"at"`
}

// RedeemResult 兑换结果
type RedeemResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Quota   *quotaModel.Record `json:"quota,omitempty"`
}
