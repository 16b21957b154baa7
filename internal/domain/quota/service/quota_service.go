package service

import (
	"context"
	"strings"
	"time"

	planModel "entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/domain/quota/model"
	"entitlement_ledger/internal/domain/quota/repository"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/metrics"

	"go.uber.org/zap"
)

// QuotaService 用户额度读写
type QuotaService interface {
	Get(ctx context.Context, userID string) (model.Lookup, error)
	// Query 返回滚动每日窗口后的记录
	Query(ctx context.Context, userID string) (*model.Record, error)
	CanConsume(ctx context.Context, userID string, kind model.Kind) (*model.Decision, error)
	Deduct(ctx context.Context, userID string, kind model.Kind) (*model.Record, error)
	// Consume 检查并扣减；两步之间存在已知的竞争窗口
	Consume(ctx context.Context, userID string, kind model.Kind) (*model.Decision, *model.Record, error)
	Grant(ctx context.Context, userID string, req model.GrantRequest) (*model.Record, error)
	Lock(ctx context.Context, userID, reason string) error
	Unlock(ctx context.Context, userID string) error
	SetRedeemCode(ctx context.Context, userID, code string) error
	Register(ctx context.Context, userID string) (bool, error)
	// IsVerifiedUser 存在额度记录或注册标记；存储异常时放行
	IsVerifiedUser(ctx context.Context, userID string) bool
}

// FreeLimitSource 免费套餐每日上限来源（套餐目录）
type FreeLimitSource interface {
	FreeDailyLimit(ctx context.Context) (int, error)
}

// Options 额度服务参数
type Options struct {
	Location *time.Location
	// FreeTrialDays 免费试用期天数，0 表示不衰减
	FreeTrialDays int
	// FreeLimitAfterTrial 试用期结束后的每日上限
	FreeLimitAfterTrial int
	Now                 func() time.Time
}

type quotaService struct {
	repo   repository.QuotaRepository
	limits FreeLimitSource
	opts   Options
}

func NewQuotaService(repo repository.QuotaRepository, limits FreeLimitSource, opts Options) QuotaService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &quotaService{repo: repo, limits: limits, opts: opts}
}

func (s *quotaService) today(now time.Time) string {
	return now.In(s.opts.Location).Format(model.DateLayout)
}

func checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	return nil
}

func checkKind(kind model.Kind) error {
	if !kind.Valid() {
		return apperr.Validation("kind must be chat or image")
	}
	return nil
}

// dailyLimit 免费用户当日上限，试用期过后衰减
func (s *quotaService) dailyLimit(ctx context.Context, rec *model.Record, now time.Time) (int, error) {
	limit, err := s.limits.FreeDailyLimit(ctx)
	if err != nil {
		return 0, err
	}
	if s.opts.FreeTrialDays > 0 && s.opts.FreeLimitAfterTrial > 0 && rec.FreeTrialStarted != nil {
		trialEnd := rec.FreeTrialStarted.AddDate(0, 0, s.opts.FreeTrialDays)
		if !now.Before(trialEnd) && s.opts.FreeLimitAfterTrial < limit {
			return s.opts.FreeLimitAfterTrial, nil
		}
	}
	return limit, nil
}

func (s *quotaService) Get(ctx context.Context, userID string) (model.Lookup, error) {
	if err := checkUser(userID); err != nil {
		return model.Lookup{}, err
	}
	return s.repo.Get(ctx, userID)
}

// rollForward 存在且日期过期的记录才写回，不为从未出现的用户创建记录
func (s *quotaService) rollForward(ctx context.Context, userID string, now time.Time) (model.Lookup, error) {
	lookup, err := s.repo.Get(ctx, userID)
	if err != nil {
		return model.Lookup{}, err
	}
	today := s.today(now)
	if !lookup.Present {
		rec := lookup.OrFree()
		rec.DailyFreeDate = today
		return model.Lookup{Record: rec}, nil
	}
	if lookup.Record.DailyFreeDate == today {
		return lookup, nil
	}
	return s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		if !present {
			// 并发删除，不重新创建
			rec.RollForward(today)
			return kv.ErrNoChange
		}
		if !rec.RollForward(today) {
			return kv.ErrNoChange
		}
		return nil
	})
}

func (s *quotaService) Query(ctx context.Context, userID string) (*model.Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	lookup, err := s.rollForward(ctx, userID, s.opts.Now())
	if err != nil {
		return nil, err
	}
	rec := lookup.Record
	return &rec, nil
}

func (s *quotaService) CanConsume(ctx context.Context, userID string, kind model.Kind) (*model.Decision, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	lookup, err := s.rollForward(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, &lookup.Record, kind, now)
}

func (s *quotaService) decide(ctx context.Context, rec *model.Record, kind model.Kind, now time.Time) (*model.Decision, error) {
	if rec.Locked != "" {
		return &model.Decision{Allowed: false, Reason: rec.Locked, Locked: true}, nil
	}

	if !rec.IsFree() {
		if rec.Expired(now) {
			return &model.Decision{Allowed: false, Reason: model.ReasonPlanExpired}, nil
		}
		if rec.Remaining(kind) <= 0 {
			return &model.Decision{Allowed: false, Reason: model.ReasonQuotaExhausted}, nil
		}
		return &model.Decision{Allowed: true}, nil
	}

	limit, err := s.dailyLimit(ctx, rec, now)
	if err != nil {
		return nil, err
	}
	if rec.DailyFreeUsed >= limit {
		return &model.Decision{Allowed: false, Reason: model.ReasonDailyLimit}, nil
	}
	return &model.Decision{Allowed: true}, nil
}

func (s *quotaService) Deduct(ctx context.Context, userID string, kind model.Kind) (*model.Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	today := s.today(now)
	lookup, err := s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		rec.RollForward(today)
		if rec.IsFree() {
			rec.DailyFreeUsed++
			if rec.FreeTrialStarted == nil {
				started := now.UTC()
				rec.FreeTrialStarted = &started
			}
			return nil
		}
		// 扣减不低于 0，竞争窗口内的多扣视为尽力而为
		switch kind {
		case model.KindImage:
			if rec.ImageRemaining > 0 {
				rec.ImageRemaining--
			}
		default:
			if rec.ChatRemaining > 0 {
				rec.ChatRemaining--
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec := lookup.Record
	return &rec, nil
}

func (s *quotaService) Consume(ctx context.Context, userID string, kind model.Kind) (*model.Decision, *model.Record, error) {
	decision, err := s.CanConsume(ctx, userID, kind)
	if err != nil {
		metrics.GetGlobalCollector().RecordConsumption(string(kind), "error")
		return nil, nil, err
	}
	if !decision.Allowed {
		metrics.GetGlobalCollector().RecordConsumption(string(kind), "denied")
		return decision, nil, nil
	}

	rec, err := s.Deduct(ctx, userID, kind)
	if err != nil {
		metrics.GetGlobalCollector().RecordConsumption(string(kind), "error")
		return nil, nil, err
	}
	metrics.GetGlobalCollector().RecordConsumption(string(kind), "allowed")
	return decision, rec, nil
}

func (s *quotaService) Grant(ctx context.Context, userID string, req model.GrantRequest) (*model.Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	plan := strings.TrimSpace(req.Plan)
	if plan == "" || strings.EqualFold(plan, planModel.PlanFree) {
		return nil, apperr.Validation("grant requires a paid plan")
	}
	if req.Chat < 0 || req.Image < 0 || req.DurationDays < 0 {
		return nil, apperr.Validation("grant amounts must not be negative")
	}

	now := s.opts.Now()
	lookup, err := s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		candidate := now.AddDate(0, 0, req.DurationDays).UTC()
		if rec.IsFree() {
			// 免费升级：已有未过期的到期时间则保留
			if rec.ExpiresAt == nil || !rec.ExpiresAt.After(now) {
				rec.ExpiresAt = &candidate
			}
			rec.Plan = plan
		} else if rec.ExpiresAt == nil || candidate.After(*rec.ExpiresAt) {
			// 叠加购买取较晚的到期时间，永不缩短；套餐名跟随到期时间较晚的一方
			rec.ExpiresAt = &candidate
			rec.Plan = plan
		}
		rec.ChatRemaining += req.Chat
		rec.ImageRemaining += req.Image
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordGrant(req.Source, plan)
	logger.Log.Info("quota granted",
		zap.String("user_id", userID),
		zap.String("plan", plan),
		zap.String("source", req.Source),
		zap.Int("chat", req.Chat),
		zap.Int("image", req.Image),
		zap.Int("days", req.DurationDays))

	rec := lookup.Record
	return &rec, nil
}

func (s *quotaService) Lock(ctx context.Context, userID, reason string) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("lock reason is required")
	}
	_, err := s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		rec.Locked = reason
		return nil
	})
	if err == nil {
		logger.Log.Warn("quota locked", zap.String("user_id", userID), zap.String("reason", reason))
	}
	return err
}

func (s *quotaService) Unlock(ctx context.Context, userID string) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	_, err := s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		if !present || rec.Locked == "" {
			return kv.ErrNoChange
		}
		rec.Locked = ""
		return nil
	})
	return err
}

func (s *quotaService) SetRedeemCode(ctx context.Context, userID, code string) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	_, err := s.repo.Update(ctx, userID, func(rec *model.Record, present bool) error {
		if rec.RedeemCode == code {
			return kv.ErrNoChange
		}
		rec.RedeemCode = code
		return nil
	})
	return err
}

func (s *quotaService) Register(ctx context.Context, userID string) (bool, error) {
	if err := checkUser(userID); err != nil {
		return false, err
	}
	return s.repo.MarkRegistered(ctx, userID, s.opts.Now())
}

func (s *quotaService) IsVerifiedUser(ctx context.Context, userID string) bool {
	if strings.TrimSpace(userID) == "" {
		return false
	}
	has, err := s.repo.HasRecord(ctx, userID)
	if err == nil && has {
		return true
	}
	if err == nil {
		has, err = s.repo.IsRegistered(ctx, userID)
		if err == nil {
			return has
		}
	}
	logger.Log.Warn("verified-user check failed, allowing", zap.String("user_id", userID), zap.Error(err))
	return true
}
