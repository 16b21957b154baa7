package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"entitlement_ledger/internal/domain/coupon/model"
	"entitlement_ledger/internal/domain/coupon/repository"
	planModel "entitlement_ledger/internal/domain/plan/model"
	quotaModel "entitlement_ledger/internal/domain/quota/model"
	"entitlement_ledger/internal/pkg/uploader"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/metrics"
	"entitlement_ledger/pkg/utils"

	"go.uber.org/zap"
)

// ErrGrantPending 另一个请求正在发放该券的额度，稍后重试
var ErrGrantPending = apperr.New(apperr.KindStorage, "grant in progress, retry later")

// maxGenerateAttempts 单个券码碰撞后的重试次数
const maxGenerateAttempts = 5

// redeemedLogLimit 兑换审计列表保留条数
const redeemedLogLimit = 100000

type CouponService interface {
	Generate(ctx context.Context, plan string, count int, origin string) ([]*model.Coupon, error)
	// Mint 以指定券码条件创建；同一来源重复铸造返回已有券
	Mint(ctx context.Context, code, plan, origin string) (*model.Coupon, error)
	Redeem(ctx context.Context, userID, code string) (*model.RedeemResult, error)
	// ClaimedBy 返回占用兑换守卫的用户，未被兑换时为空
	ClaimedBy(ctx context.Context, code string) (string, error)
	List(ctx context.Context, origin string, page utils.Pagination) ([]*model.Coupon, int64, error)
	Export(ctx context.Context, origin string) (*ExportResult, error)
}

// PlanLookup 套餐查询
type PlanLookup interface {
	Get(ctx context.Context, id string) (*planModel.Plan, error)
}

// QuotaGranter 额度发放
type QuotaGranter interface {
	Grant(ctx context.Context, userID string, req quotaModel.GrantRequest) (*quotaModel.Record, error)
	SetRedeemCode(ctx context.Context, userID, code string) error
}

// Alerter 运营告警
type Alerter interface {
	Alert(title, body string, fields map[string]string)
}

// ExportResult 导出结果
type ExportResult struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

type Options struct {
	Prefix     string
	IndexLimit int64
	MaxBatch   int
	Now        func() time.Time
}

type couponService struct {
	repo     repository.CouponRepository
	plans    PlanLookup
	quota    QuotaGranter
	alerts   Alerter
	uploader uploader.Uploader
	opts     Options
}

// NewCouponService up 为 nil 时导出不可用
func NewCouponService(repo repository.CouponRepository, plans PlanLookup, quota QuotaGranter, alerts Alerter, up uploader.Uploader, opts Options) CouponService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Prefix = strings.ToUpper(opts.Prefix)
	if opts.Prefix == "" {
		opts.Prefix = "OS"
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	return &couponService{
		repo:     repo,
		plans:    plans,
		quota:    quota,
		alerts:   alerts,
		uploader: up,
		opts:     opts,
	}
}

// grantablePlan 兑换码只能绑定付费套餐
func (s *couponService) grantablePlan(ctx context.Context, id string) (*planModel.Plan, error) {
	p, err := s.plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsFree() {
		return nil, apperr.Validation("coupons cannot grant the free plan")
	}
	return p, nil
}

func (s *couponService) Generate(ctx context.Context, plan string, count int, origin string) ([]*model.Coupon, error) {
	if count <= 0 || count > s.opts.MaxBatch {
		return nil, apperr.Validation(fmt.Sprintf("count must be between 1 and %d", s.opts.MaxBatch))
	}
	p, err := s.grantablePlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	coupons := make([]*model.Coupon, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		coupon, err := s.createRandom(ctx, p.ID, origin, now)
		if err != nil {
			// 已创建的券仍写入索引，避免成为孤儿
			if idxErr := s.repo.AppendIndex(ctx, origin, s.opts.IndexLimit, codes...); idxErr != nil {
				logger.Log.Error("Failed to index generated coupons", zap.Error(idxErr))
			}
			return nil, err
		}
		coupons = append(coupons, coupon)
		codes = append(codes, coupon.Code)
	}

	if err := s.repo.AppendIndex(ctx, origin, s.opts.IndexLimit, codes...); err != nil {
		return nil, err
	}

	logger.Log.Info("coupons generated",
		zap.String("plan", p.ID),
		zap.String("origin", origin),
		zap.Int("count", len(coupons)))
	return coupons, nil
}

func (s *couponService) createRandom(ctx context.Context, plan, origin string, now time.Time) (*model.Coupon, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := RandomCode(s.opts.Prefix)
		if err != nil {
			return nil, err
		}
		coupon := &model.Coupon{Code: code, Plan: plan, Origin: origin, CreatedAt: now}
		created, err := s.repo.Create(ctx, coupon)
		if err != nil {
			return nil, err
		}
		if created {
			return coupon, nil
		}
		logger.Log.Warn("coupon code collision, retrying", zap.String("code", code), zap.Int("attempt", attempt+1))
	}
	return nil, apperr.Conflict("could not allocate a unique coupon code")
}

func (s *couponService) Mint(ctx context.Context, code, plan, origin string) (*model.Coupon, error) {
	code = NormalizeCode(code)
	if !IsCouponFormat(code) {
		return nil, apperr.Validation("malformed code")
	}
	p, err := s.grantablePlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	coupon := &model.Coupon{Code: code, Plan: p.ID, Origin: origin, CreatedAt: s.opts.Now().UTC()}
	created, err := s.repo.Create(ctx, coupon)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.repo.AppendIndex(ctx, origin, s.opts.IndexLimit, code); err != nil {
			logger.Log.Error("Failed to index minted coupon", zap.String("code", code), zap.Error(err))
		}
		return coupon, nil
	}

	existing, found, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !found || existing.Origin != origin || !strings.EqualFold(existing.Plan, p.ID) {
		return nil, apperr.Conflict("coupon code already exists")
	}
	return existing, nil
}

func (s *couponService) Redeem(ctx context.Context, userID, code string) (*model.RedeemResult, error) {
	result, err := s.redeem(ctx, userID, code)
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	metrics.GetGlobalCollector().RecordRedemption(outcome)
	return result, err
}

func (s *couponService) redeem(ctx context.Context, userID, code string) (*model.RedeemResult, error) {
	// 1. 校验输入，不访问存储
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	code = NormalizeCode(code)
	if !IsCouponFormat(code) {
		return nil, apperr.Validation("malformed code")
	}

	// 2. 读取券
	coupon, found, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("code not found")
	}
	if coupon.Used() && *coupon.UsedBy != userID {
		return nil, apperr.Conflict("code already used")
	}

	p, err := s.plans.Get(ctx, coupon.Plan)
	if err != nil {
		return nil, err
	}

	// 3. 恰好一次守卫：失败时没有任何副作用
	acquired, err := s.repo.AcquireClaim(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		owner, err := s.repo.ClaimOwner(ctx, code)
		if err != nil {
			return nil, err
		}
		if owner != userID {
			return nil, apperr.Conflict("code already used")
		}
		// 同一用户重试：额度已发放则视为重复兑换，否则补发
		state, err := s.repo.GrantState(ctx, code)
		if err != nil {
			return nil, err
		}
		switch state {
		case repository.GrantDone:
			return nil, apperr.Conflict("code already used")
		case repository.GrantPending:
			return nil, ErrGrantPending
		}
		logger.Log.Info("resuming pending coupon grant", zap.String("code", code), zap.String("user_id", userID))
	}

	// 4. 先写券再发额度：中途失败只会留下“已消耗、待发放”的审计痕迹
	now := s.opts.Now()
	if _, err := s.repo.MarkUsed(ctx, code, userID, now); err != nil {
		s.alertGrantPending(code, userID, p.ID, "mark used", err)
		return nil, err
	}

	rec, err := s.grantOnce(ctx, code, userID, p)
	if err != nil {
		return nil, err
	}

	// 5. 审计信息，失败不影响结果
	if err := s.quota.SetRedeemCode(ctx, userID, code); err != nil {
		logger.Log.Warn("Failed to record redeem code", zap.String("user_id", userID), zap.Error(err))
	} else {
		rec.RedeemCode = code
	}
	entry := model.Redemption{Code: code, UserID: userID, Plan: p.ID, At: now.UTC()}
	if err := s.repo.AppendRedeemed(ctx, entry, redeemedLogLimit); err != nil {
		logger.Log.Warn("Failed to append redemption log", zap.String("code", code), zap.Error(err))
	}

	logger.Log.Info("coupon redeemed",
		zap.String("code", code),
		zap.String("user_id", userID),
		zap.String("plan", p.ID))

	return &model.RedeemResult{
		Success: true,
		Message: fmt.Sprintf("redeemed %s", p.Label),
		Quota:   rec,
	}, nil
}

// grantOnce 发放标记保证同一券码的额度只发放一次
func (s *couponService) grantOnce(ctx context.Context, code, userID string, p *planModel.Plan) (*quotaModel.Record, error) {
	won, err := s.repo.BeginGrant(ctx, code)
	if err != nil {
		s.alertGrantPending(code, userID, p.ID, "begin grant", err)
		return nil, err
	}
	if !won {
		state, err := s.repo.GrantState(ctx, code)
		if err != nil {
			return nil, err
		}
		if state == repository.GrantDone {
			return nil, apperr.Conflict("code already used")
		}
		return nil, ErrGrantPending
	}

	rec, err := s.quota.Grant(ctx, userID, quotaModel.GrantRequest{
		Plan:         p.ID,
		Chat:         p.ChatQuota,
		Image:        p.ImageQuota,
		DurationDays: p.DurationDays,
		Source:       "coupon",
	})
	if err != nil {
		if abortErr := s.repo.AbortGrant(ctx, code); abortErr != nil {
			logger.Log.Error("Failed to release grant marker", zap.String("code", code), zap.Error(abortErr))
		}
		s.alertGrantPending(code, userID, p.ID, "grant", err)
		return nil, err
	}

	// 额度已发放，标记写入失败时告警人工核对
	if err := s.repo.FinishGrant(ctx, code); err != nil {
		logger.Log.Error("Failed to record grant marker", zap.String("code", code), zap.Error(err))
		if s.alerts != nil {
			s.alerts.Alert("coupon granted, marker missing",
				fmt.Sprintf("coupon %s granted to %s but marker write failed: %v", code, userID, err),
				map[string]string{"code": code, "user_id": userID, "plan": p.ID})
		}
	}
	return rec, nil
}

func (s *couponService) alertGrantPending(code, userID, plan, step string, err error) {
	logger.Log.Error("coupon consumed but grant pending",
		zap.String("code", code),
		zap.String("user_id", userID),
		zap.String("step", step),
		zap.Error(err))
	if s.alerts != nil {
		s.alerts.Alert("code consumed, grant pending",
			fmt.Sprintf("coupon %s claimed by %s but %s failed: %v", code, userID, step, err),
			map[string]string{"code": code, "user_id": userID, "plan": plan, "step": step})
	}
}

func (s *couponService) ClaimedBy(ctx context.Context, code string) (string, error) {
	return s.repo.ClaimOwner(ctx, NormalizeCode(code))
}

func (s *couponService) List(ctx context.Context, origin string, page utils.Pagination) ([]*model.Coupon, int64, error) {
	total, err := s.repo.CountIndex(ctx, origin)
	if err != nil {
		return nil, 0, err
	}
	start, stop := page.ListRange()
	if start >= total {
		return []*model.Coupon{}, total, nil
	}
	// 最新的在列表尾部，倒序分页
	codes, err := s.repo.ListIndex(ctx, origin, -(stop + 1), -(start + 1))
	if err != nil {
		return nil, 0, err
	}

	coupons := make([]*model.Coupon, 0, len(codes))
	for i := len(codes) - 1; i >= 0; i-- {
		coupon, found, err := s.repo.Get(ctx, codes[i])
		if err != nil {
			return nil, 0, err
		}
		if found {
			coupons = append(coupons, coupon)
		}
	}
	return coupons, total, nil
}

func (s *couponService) Export(ctx context.Context, origin string) (*ExportResult, error) {
	if s.uploader == nil {
		return nil, apperr.Upstream("export storage is not configured", errors.New("uploader missing"))
	}

	codes, err := s.repo.ListIndex(ctx, origin, 0, -1)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"code", "plan", "origin", "created_at", "used_by", "used_at"})
	count := 0
	for _, code := range codes {
		coupon, found, err := s.repo.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		_ = w.Write(csvRow(coupon))
		count++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	name := uploader.ObjectName("coupons/export", ".csv", s.opts.Now())
	url, err := s.uploader.Put(ctx, name, &buf, "text/csv")
	if err != nil {
		return nil, apperr.Upstream("upload export failed", err)
	}
	logger.Log.Info("coupons exported", zap.String("origin", origin), zap.Int("count", count), zap.String("object", name))
	return &ExportResult{URL: url, Count: count}, nil
}

func csvRow(c *model.Coupon) []string {
	usedBy, usedAt := "", ""
	if c.UsedBy != nil {
		usedBy = *c.UsedBy
	}
	if c.UsedAt != nil {
		usedAt = c.UsedAt.Format(time.RFC3339)
	}
	return []string{c.Code, c.Plan, c.Origin, c.CreatedAt.Format(time.RFC3339), usedBy, usedAt}
}
