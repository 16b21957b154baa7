package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"entitlement_ledger/internal/domain/coupon/model"
	"entitlement_ledger/pkg/apperr"
	"entitlement_ledger/pkg/kv"
)

const (
	indexKey    = "coupons:index"
	redeemedKey = "coupons:redeemed"
)

// 发放标记状态
const (
	GrantPending = "pending"
	GrantDone    = "done"
)

// grantLease 发放进行中标记的有效期，进程崩溃后允许重试接管
const grantLease = 2 * time.Minute

type CouponRepository interface {
	// Create 条件创建，券码已存在时返回 false
	Create(ctx context.Context, coupon *model.Coupon) (bool, error)
	Get(ctx context.Context, code string) (*model.Coupon, bool, error)
	// AcquireClaim 恰好一次的兑换守卫，先到者获胜
	AcquireClaim(ctx context.Context, code, userID string) (bool, error)
	ClaimOwner(ctx context.Context, code string) (string, error)
	// MarkUsed 写入 usedBy/usedAt，已被他人使用时返回 Conflict
	MarkUsed(ctx context.Context, code, userID string, at time.Time) (*model.Coupon, error)
	// BeginGrant 条件创建发放标记，只有一个调用方能开始发放
	BeginGrant(ctx context.Context, code string) (bool, error)
	// GrantState 返回发放标记状态，不存在时为空
	GrantState(ctx context.Context, code string) (string, error)
	FinishGrant(ctx context.Context, code string) error
	AbortGrant(ctx context.Context, code string) error
	AppendIndex(ctx context.Context, origin string, maxLen int64, codes ...string) error
	ListIndex(ctx context.Context, origin string, start, stop int64) ([]string, error)
	CountIndex(ctx context.Context, origin string) (int64, error)
	AppendRedeemed(ctx context.Context, entry model.Redemption, maxLen int64) error
}

type couponRepository struct {
	store kv.Store
}

func NewCouponRepository(store kv.Store) CouponRepository {
	return &couponRepository{store: store}
}

func couponKey(code string) string {
	return "coupon:" + code
}

func claimKey(code string) string {
	return "coupon:claim:" + code
}

func grantKey(code string) string {
	return "coupon:granted:" + code
}

// IndexKey 按来源分组的索引列表，来源为空时使用通用列表
func IndexKey(origin string) string {
	if origin == "" {
		return indexKey
	}
	return indexKey + ":" + origin
}

func (r *couponRepository) Create(ctx context.Context, coupon *model.Coupon) (bool, error) {
	return kv.SetNXJSON(ctx, r.store, couponKey(coupon.Code), coupon, 0)
}

func (r *couponRepository) Get(ctx context.Context, code string) (*model.Coupon, bool, error) {
	var coupon model.Coupon
	err := kv.GetJSON(ctx, r.store, couponKey(code), &coupon)
	if errors.Is(err, kv.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &coupon, true, nil
}

func (r *couponRepository) AcquireClaim(ctx context.Context, code, userID string) (bool, error) {
	return r.store.SetNX(ctx, claimKey(code), userID, 0)
}

func (r *couponRepository) ClaimOwner(ctx context.Context, code string) (string, error) {
	owner, err := r.store.Get(ctx, claimKey(code))
	if errors.Is(err, kv.ErrNil) {
		return "", nil
	}
	return owner, err
}

func (r *couponRepository) MarkUsed(ctx context.Context, code, userID string, at time.Time) (*model.Coupon, error) {
	var result model.Coupon
	err := kv.UpdateJSON(ctx, r.store, couponKey(code), func(cur *model.Coupon, exists bool) error {
		if !exists {
			return apperr.NotFound("code not found")
		}
		if cur.Used() {
			if *cur.UsedBy == userID {
				result = *cur
				return kv.ErrNoChange
			}
			return apperr.Conflict("code already used")
		}
		usedBy := userID
		usedAt := at.UTC()
		cur.UsedBy = &usedBy
		cur.UsedAt = &usedAt
		result = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *couponRepository) BeginGrant(ctx context.Context, code string) (bool, error) {
	return r.store.SetNX(ctx, grantKey(code), GrantPending, grantLease)
}

func (r *couponRepository) GrantState(ctx context.Context, code string) (string, error) {
	state, err := r.store.Get(ctx, grantKey(code))
	if errors.Is(err, kv.ErrNil) {
		return "", nil
	}
	return state, err
}

func (r *couponRepository) FinishGrant(ctx context.Context, code string) error {
	return r.store.Set(ctx, grantKey(code), GrantDone, 0)
}

func (r *couponRepository) AbortGrant(ctx context.Context, code string) error {
	return r.store.Del(ctx, grantKey(code))
}

func (r *couponRepository) AppendIndex(ctx context.Context, origin string, maxLen int64, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	return r.store.ListPush(ctx, IndexKey(origin), maxLen, codes...)
}

func (r *couponRepository) ListIndex(ctx context.Context, origin string, start, stop int64) ([]string, error) {
	return r.store.ListRange(ctx, IndexKey(origin), start, stop)
}

func (r *couponRepository) CountIndex(ctx context.Context, origin string) (int64, error) {
	return r.store.ListLen(ctx, IndexKey(origin))
}

func (r *couponRepository) AppendRedeemed(ctx context.Context, entry model.Redemption, maxLen int64) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.store.ListPush(ctx, redeemedKey, maxLen, string(data))
}
