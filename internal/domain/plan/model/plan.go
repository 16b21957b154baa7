package model

import (
	"strings"
	"time"
)

// PlanFree 免费套餐 ID，也是额度记录的默认/重置状态
const PlanFree = "free"

// Plan 套餐定义
type Plan struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	ChatQuota      int     `json:"chatQuota"`
	ImageQuota     int     `json:"imageQuota"`
	DurationDays   int     `json:"durationDays"`
	DailyFreeLimit int     `json:"dailyFreeLimit"`
	Price          float64 `json:"price"`
}

// IsFree 是否免费套餐
func (p Plan) IsFree() bool {
	return p.ID == PlanFree
}

// Catalog 版本化的套餐目录，整体存储在一个键里
type Catalog struct {
	Version   int64     `json:"version"`
	Plans     []Plan    `json:"plans"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Find 按 ID 查找（大小写不敏感）
func (c *Catalog) Find(id string) (Plan, bool) {
	for _, p := range c.Plans {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Plan{}, false
}
