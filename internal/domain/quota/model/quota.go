package model

import (
	"time"

	planModel "entitlement_ledger/internal/domain/plan/model"
)

// DateLayout 每日免费窗口的日期格式（产品本地时区）
const DateLayout = "2006-01-02"

// Kind 消耗类型
type Kind string

const (
	KindChat  Kind = "chat"
	KindImage Kind = "image"
)

// Valid 是否合法的消耗类型
func (k Kind) Valid() bool {
	return k == KindChat || k == KindImage
}

// Record 用户额度记录
type Record struct {
	Plan             string     `json:"plan"`
	ChatRemaining    int        `json:"chatRemaining"`
	ImageRemaining   int        `json:"imageRemaining"`
	DailyFreeUsed    int        `json:"dailyFreeUsed"`
	DailyFreeDate    string     `json:"dailyFreeDate"`
	FreeTrialStarted *time.Time `json:"freeTrialStarted,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	RedeemCode       string     `json:"redeemCode,omitempty"`
	Locked           string     `json:"locked,omitempty"`
}

// IsFree 是否免费套餐
func (r *Record) IsFree() bool {
	return r.Plan == "" || r.Plan == planModel.PlanFree
}

// Expired 付费套餐是否已过期；免费套餐永不过期
func (r *Record) Expired(now time.Time) bool {
	if r.IsFree() {
		return false
	}
	return r.ExpiresAt == nil || !r.ExpiresAt.After(now)
}

// Remaining 指定类型的剩余次数
func (r *Record) Remaining(kind Kind) int {
	if kind == KindImage {
		return r.ImageRemaining
	}
	return r.ChatRemaining
}

// RollForward 日期变化时重置每日免费计数，返回是否发生了重置
func (r *Record) RollForward(today string) bool {
	if r.DailyFreeDate == today {
		return false
	}
	r.DailyFreeUsed = 0
	r.DailyFreeDate = today
	return true
}

// Lookup 存储层返回值：区分“从未出现”与“显式存在的记录”
type Lookup struct {
	Present bool
	Record  Record
}

// OrFree 在使用点折叠为默认的免费记录
func (l Lookup) OrFree() Record {
	if l.Present {
		return l.Record
	}
	return Record{Plan: planModel.PlanFree}
}

// Decision 是否允许消耗
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Locked  bool   `json:"locked,omitempty"`
}

// 拒绝原因
const (
	ReasonPlanExpired    = "plan expired"
	ReasonQuotaExhausted = "quota exhausted"
	ReasonDailyLimit     = "daily limit reached"
)

// GrantRequest 发放额度请求
type GrantRequest struct {
	Plan         string
	Chat         int
	Image        int
	DurationDays int
	// Source 来源：coupon / payment / referral，仅用于指标
	Source string
}
