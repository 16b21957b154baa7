package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	quotaModel "entitlement_ledger/internal/domain/quota/model"
	"entitlement_ledger/internal/domain/referral/model"
	"entitlement_ledger/internal/domain/referral/repository"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/metrics"

	"go.uber.org/zap"
)

const (
	shareCodeLength   = 6
	shareCodeAttempts = 10
	shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var shareCodeFormat = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// 领取被拒绝的原因
var (
	ErrSelfReferral   = apperr.Validation("cannot claim your own share code")
	ErrPoolExhausted  = apperr.Conflict("share code reward limit reached")
	ErrIPLimit        = apperr.RateLimited("too many claims from this network today")
	ErrAlreadyClaimed = apperr.Conflict("referral reward already claimed")
)

type ReferralService interface {
	GenerateShareCode(ctx context.Context, userID string) (string, error)
	Claim(ctx context.Context, userID, shareCode, ip string) (*model.ClaimResult, error)
	Stats(ctx context.Context, userID string) (*model.Stats, error)
}

// QuotaGranter 发放奖励额度并识别真实用户
type QuotaGranter interface {
	Grant(ctx context.Context, userID string, req quotaModel.GrantRequest) (*quotaModel.Record, error)
	IsVerifiedUser(ctx context.Context, userID string) bool
}

// Alerter 运营告警
type Alerter interface {
	Alert(title, body string, fields map[string]string)
}

type Options struct {
	Location     *time.Location
	MaxClaims    int64
	IPDailyLimit int64
	Referrer     model.Reward
	Referee      model.Reward
	Now          func() time.Time
}

type referralService struct {
	repo   repository.ReferralRepository
	quota  QuotaGranter
	alerts Alerter
	opts   Options
}

func NewReferralService(repo repository.ReferralRepository, quota QuotaGranter, alerts Alerter, opts Options) ReferralService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxClaims <= 0 {
		opts.MaxClaims = 100
	}
	return &referralService{repo: repo, quota: quota, alerts: alerts, opts: opts}
}

// NormalizeShareCode 去空白并转大写
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsShareCodeFormat 6 位字母数字
func IsShareCodeFormat(code string) bool {
	return shareCodeFormat.MatchString(NormalizeShareCode(code))
}

func randomShareCode() (string, error) {
	b := make([]byte, shareCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = shareCodeAlphabet[int(b[i])%len(shareCodeAlphabet)]
	}
	return string(b), nil
}

func (s *referralService) GenerateShareCode(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", apperr.Validation("userId is required")
	}
	if !s.quota.IsVerifiedUser(ctx, userID) {
		return "", apperr.Authorization("only registered users can create a share code")
	}

	existing, err := s.repo.OwnerCode(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	for i := 0; i < shareCodeAttempts; i++ {
		code, err := randomShareCode()
		if err != nil {
			return "", err
		}
		share := &model.Share{Code: code, OwnerUserID: userID, CreatedAt: s.opts.Now().UTC()}
		created, err := s.repo.CreateShare(ctx, share)
		if err != nil {
			return "", err
		}
		if !created {
			continue
		}

		bound, won, err := s.repo.BindOwner(ctx, userID, code)
		if err != nil {
			return "", err
		}
		if !won {
			// 并发的首次调用已经绑定了另一个码，丢弃本次生成的码
			if err := s.repo.DeleteShare(ctx, code); err != nil {
				logger.Log.Warn("Failed to drop orphan share code", zap.String("code", code), zap.Error(err))
			}
		}
		logger.Log.Info("share code issued", zap.String("user_id", userID), zap.String("code", bound))
		return bound, nil
	}
	return "", apperr.Conflict("could not allocate share code, please retry")
}

func (s *referralService) Claim(ctx context.Context, userID, shareCode, ip string) (*model.ClaimResult, error) {
	result, err := s.claim(ctx, userID, shareCode, ip)
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	metrics.GetGlobalCollector().RecordReferralClaim(outcome)
	return result, err
}

func (s *referralService) claim(ctx context.Context, userID, shareCode, ip string) (*model.ClaimResult, error) {
	// 1. 校验输入，不访问存储
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	code := NormalizeShareCode(shareCode)
	if !IsShareCodeFormat(code) {
		return nil, apperr.Validation("malformed share code")
	}

	// 2. 读取分享码
	share, found, err := s.repo.GetShare(ctx, code)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("share code not found")
	}
	if share.OwnerUserID == userID {
		return nil, ErrSelfReferral
	}

	// 3. 预占奖励名额，后续任一守卫失败都要归还
	reserved, err := s.repo.ReserveReward(ctx, code)
	if err != nil {
		return nil, err
	}
	if reserved > s.opts.MaxClaims {
		s.release(ctx, code)
		return nil, ErrPoolExhausted
	}

	if err := s.guard(ctx, code, userID, ip); err != nil {
		s.release(ctx, code)
		return nil, err
	}

	// 4. 守卫全部通过后才发放额度
	fields := map[string]string{"code": code, "referrer": share.OwnerUserID, "referee": userID}
	var grantErr error
	if _, err := s.quota.Grant(ctx, share.OwnerUserID, s.grantRequest(s.opts.Referrer)); err != nil {
		grantErr = err
		s.alertGrantPending("referrer", share.OwnerUserID, err, fields)
	}
	if _, err := s.quota.Grant(ctx, userID, s.grantRequest(s.opts.Referee)); err != nil {
		grantErr = err
		s.alertGrantPending("referee", userID, err, fields)
	}
	if grantErr != nil {
		return nil, grantErr
	}

	if err := s.repo.AppendClaim(ctx, code, userID, s.opts.MaxClaims); err != nil {
		logger.Log.Warn("Failed to append referral claim", zap.String("code", code), zap.Error(err))
	}

	logger.Log.Info("referral reward claimed",
		zap.String("code", code),
		zap.String("referrer", share.OwnerUserID),
		zap.String("referee", userID))

	return &model.ClaimResult{Success: true, Message: "referral reward granted"}, nil
}

// guard 三道独立守卫：IP 日计数、(码,用户) 锁、全局一次性标记
func (s *referralService) guard(ctx context.Context, code, userID, ip string) error {
	if ip != "" && s.opts.IPDailyLimit > 0 {
		now := s.opts.Now().In(s.opts.Location)
		count, err := s.repo.CountIP(ctx, ip, now.Format(quotaModel.DateLayout), untilMidnight(now))
		if err != nil {
			return err
		}
		if count > s.opts.IPDailyLimit {
			return ErrIPLimit
		}
	}

	locked, err := s.repo.LockPair(ctx, code, userID)
	if err != nil {
		return err
	}
	if !locked {
		return ErrAlreadyClaimed
	}

	first, err := s.repo.MarkClaimed(ctx, userID, code)
	if err != nil {
		return err
	}
	if !first {
		return ErrAlreadyClaimed
	}
	return nil
}

func (s *referralService) release(ctx context.Context, code string) {
	if err := s.repo.ReleaseReward(ctx, code); err != nil {
		logger.Log.Warn("Failed to release referral slot", zap.String("code", code), zap.Error(err))
	}
}

func (s *referralService) grantRequest(r model.Reward) quotaModel.GrantRequest {
	return quotaModel.GrantRequest{
		Plan:         r.Plan,
		Chat:         r.Chat,
		Image:        r.Image,
		DurationDays: r.Days,
		Source:       "referral",
	}
}

func (s *referralService) alertGrantPending(role, userID string, err error, fields map[string]string) {
	logger.Log.Error("referral claimed but grant failed",
		zap.String("role", role),
		zap.String("user_id", userID),
		zap.Error(err))
	if s.alerts == nil {
		return
	}
	f := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["role"] = role
	s.alerts.Alert("referral claimed, grant pending",
		fmt.Sprintf("%s %s was not credited: %v", role, userID, err), f)
}

func (s *referralService) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	code, err := s.repo.OwnerCode(ctx, userID)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.NotFound("no share code for this user")
	}
	claims, err := s.repo.ListClaims(ctx, code)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.RewardCount(ctx, code)
	if err != nil {
		return nil, err
	}
	return &model.Stats{
		Code:         code,
		ClaimedBy:    claims,
		TotalRewards: total,
		MaxClaims:    s.opts.MaxClaims,
	}, nil
}

// untilMidnight 距离本地次日零点的时长，IP 计数按自然日滚动
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

// IsRejection 领取被业务规则拒绝（非存储异常）
func IsRejection(err error) bool {
	return errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrConflict) ||
		errors.Is(err, apperr.ErrRateLimited) ||
		errors.Is(err, apperr.ErrAuthorization)
}
