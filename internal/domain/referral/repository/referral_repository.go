package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"entitlement_ledger/internal/domain/referral/model"
	"entitlement_ledger/pkg/kv"
)

type ReferralRepository interface {
	// CreateShare 条件创建分享码，已被占用时返回 false
	CreateShare(ctx context.Context, share *model.Share) (bool, error)
	GetShare(ctx context.Context, code string) (*model.Share, bool, error)
	DeleteShare(ctx context.Context, code string) error
	// BindOwner 条件写入 用户 -> 分享码 反向索引，返回最终生效的分享码
	BindOwner(ctx context.Context, userID, code string) (string, bool, error)
	OwnerCode(ctx context.Context, userID string) (string, error)

	// ReserveReward 预占奖励名额，返回预占后的计数
	ReserveReward(ctx context.Context, code string) (int64, error)
	ReleaseReward(ctx context.Context, code string) error
	RewardCount(ctx context.Context, code string) (int64, error)

	// CountIP 按天累计某 IP 的领取次数，窗口到 until 为止
	CountIP(ctx context.Context, ip, date string, until time.Duration) (int64, error)
	// LockPair 同一用户对同一分享码的并发重复提交守卫
	LockPair(ctx context.Context, code, userID string) (bool, error)
	// MarkClaimed 全局一次性领取标记，先到者获胜
	MarkClaimed(ctx context.Context, userID, code string) (bool, error)

	AppendClaim(ctx context.Context, code, userID string, maxLen int64) error
	ListClaims(ctx context.Context, code string) ([]string, error)
}

type referralRepository struct {
	store kv.Store
}

func NewReferralRepository(store kv.Store) ReferralRepository {
	return &referralRepository{store: store}
}

func shareKey(code string) string        { return "share:" + code }
func ownerKey(userID string) string      { return "share:owner:" + userID }
func rewardsKey(code string) string      { return "share:rewards:" + code }
func claimsKey(code string) string       { return "share:claims:" + code }
func lockKey(code, userID string) string { return "share:lock:" + code + ":" + userID }
func claimedKey(userID string) string    { return "share:claimed:" + userID }
func ipKey(ip, date string) string       { return "share:ip:" + ip + ":" + date }

func (r *referralRepository) CreateShare(ctx context.Context, share *model.Share) (bool, error) {
	return kv.SetNXJSON(ctx, r.store, shareKey(share.Code), share, 0)
}

func (r *referralRepository) GetShare(ctx context.Context, code string) (*model.Share, bool, error) {
	var share model.Share
	err := kv.GetJSON(ctx, r.store, shareKey(code), &share)
	if errors.Is(err, kv.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &share, true, nil
}

func (r *referralRepository) DeleteShare(ctx context.Context, code string) error {
	return r.store.Del(ctx, shareKey(code))
}

func (r *referralRepository) BindOwner(ctx context.Context, userID, code string) (string, bool, error) {
	ok, err := r.store.SetNX(ctx, ownerKey(userID), code, 0)
	if err != nil {
		return "", false, err
	}
	if ok {
		return code, true, nil
	}
	existing, err := r.OwnerCode(ctx, userID)
	return existing, false, err
}

func (r *referralRepository) OwnerCode(ctx context.Context, userID string) (string, error) {
	code, err := r.store.Get(ctx, ownerKey(userID))
	if errors.Is(err, kv.ErrNil) {
		return "", nil
	}
	return code, err
}

func (r *referralRepository) ReserveReward(ctx context.Context, code string) (int64, error) {
	return r.store.Incr(ctx, rewardsKey(code))
}

func (r *referralRepository) ReleaseReward(ctx context.Context, code string) error {
	_, err := r.store.Decr(ctx, rewardsKey(code))
	return err
}

func (r *referralRepository) RewardCount(ctx context.Context, code string) (int64, error) {
	val, err := r.store.Get(ctx, rewardsKey(code))
	if errors.Is(err, kv.ErrNil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (r *referralRepository) CountIP(ctx context.Context, ip, date string, until time.Duration) (int64, error) {
	return r.store.IncrWithExpire(ctx, ipKey(ip, date), until)
}

func (r *referralRepository) LockPair(ctx context.Context, code, userID string) (bool, error) {
	return r.store.SetNX(ctx, lockKey(code, userID), "1", 0)
}

func (r *referralRepository) MarkClaimed(ctx context.Context, userID, code string) (bool, error) {
	return r.store.SetNX(ctx, claimedKey(userID), code, 0)
}

func (r *referralRepository) AppendClaim(ctx context.Context, code, userID string, maxLen int64) error {
	return r.store.ListPush(ctx, claimsKey(code), maxLen, userID)
}

func (r *referralRepository) ListClaims(ctx context.Context, code string) ([]string, error) {
	return r.store.ListRange(ctx, claimsKey(code), 0, -1)
}
