package model

import "time"

// Share 分享码，领取记录与奖励计数放在独立的键里
type Share struct {
	Code        string    `json:"code"`
	OwnerUserID string    `json:"ownerUserId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Reward 一次邀请奖励的额度
type Reward struct {
	Plan  string
	Chat  int
	Image int
	Days  int
}

// ClaimResult 领取结果
type ClaimResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Stats 分享码统计
type Stats struct {
	Code         string   `json:"code"`
	ClaimedBy    []string `json:"claimedBy"`
	TotalRewards int64    `json:"totalRewards"`
	MaxClaims    int64    `json:"maxClaims"`
}
