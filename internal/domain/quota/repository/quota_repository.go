package repository

import (
	"context"
	"errors"
	"time"

	"entitlement_ledger/internal/domain/quota/model"
	"entitlement_ledger/pkg/kv"
)

type QuotaRepository interface {
	Get(ctx context.Context, userID string) (model.Lookup, error)
	// Update 在单键 CAS 内修改记录；fn 返回 kv.ErrNoChange 时不写回
	Update(ctx context.Context, userID string, fn func(rec *model.Record, present bool) error) (model.Lookup, error)
	// MarkRegistered 写入注册标记，已存在时返回 false
	MarkRegistered(ctx context.Context, userID string, at time.Time) (bool, error)
	HasRecord(ctx context.Context, userID string) (bool, error)
	IsRegistered(ctx context.Context, userID string) (bool, error)
}

type quotaRepository struct {
	store kv.Store
}

func NewQuotaRepository(store kv.Store) QuotaRepository {
	return &quotaRepository{store: store}
}

func recordKey(userID string) string {
	return "quota:" + userID
}

func registeredKey(userID string) string {
	return "user:registered:" + userID
}

func (r *quotaRepository) Get(ctx context.Context, userID string) (model.Lookup, error) {
	var rec model.Record
	err := kv.GetJSON(ctx, r.store, recordKey(userID), &rec)
	if errors.Is(err, kv.ErrNil) {
		return model.Lookup{}, nil
	}
	if err != nil {
		return model.Lookup{}, err
	}
	return model.Lookup{Present: true, Record: rec}, nil
}

func (r *quotaRepository) Update(ctx context.Context, userID string, fn func(rec *model.Record, present bool) error) (model.Lookup, error) {
	var result model.Lookup
	err := kv.UpdateJSON(ctx, r.store, recordKey(userID), func(cur *model.Record, exists bool) error {
		if !exists {
			*cur = model.Lookup{}.OrFree()
		}
		if err := fn(cur, exists); err != nil {
			if errors.Is(err, kv.ErrNoChange) {
				result = model.Lookup{Present: exists, Record: *cur}
			}
			return err
		}
		result = model.Lookup{Present: true, Record: *cur}
		return nil
	})
	if err != nil {
		return model.Lookup{}, err
	}
	return result, nil
}

func (r *quotaRepository) MarkRegistered(ctx context.Context, userID string, at time.Time) (bool, error) {
	return r.store.SetNX(ctx, registeredKey(userID), at.UTC().Format(time.RFC3339), 0)
}

func (r *quotaRepository) HasRecord(ctx context.Context, userID string) (bool, error) {
	return r.store.Exists(ctx, recordKey(userID))
}

func (r *quotaRepository) IsRegistered(ctx context.Context, userID string) (bool, error) {
	return r.store.Exists(ctx, registeredKey(userID))
}
