package repository

import (
	"context"
	"errors"
	"time"

	"entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/pkg/kv"
)

const catalogKey = "plans:catalog"

type PlanRepository interface {
	// Load 读取目录，不存在时 found 为 false
	Load(ctx context.Context) (catalog *model.Catalog, found bool, err error)
	// Replace 整体覆盖目录并递增版本号
	Replace(ctx context.Context, plans []model.Plan, now time.Time) (*model.Catalog, error)
}

type planRepository struct {
	store kv.Store
}

func NewPlanRepository(store kv.Store) PlanRepository {
	return &planRepository{store: store}
}

func (r *planRepository) Load(ctx context.Context) (*model.Catalog, bool, error) {
	var catalog model.Catalog
	if err := kv.GetJSON(ctx, r.store, catalogKey, &catalog); err != nil {
		if errors.Is(err, kv.ErrNil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &catalog, true, nil
}

// Replace CAS 写入，并发覆盖时版本号依然单调递增
func (r *planRepository) Replace(ctx context.Context, plans []model.Plan, now time.Time) (*model.Catalog, error) {
	var saved model.Catalog
	err := kv.UpdateJSON(ctx, r.store, catalogKey, func(cur *model.Catalog, exists bool) error {
		cur.Version++
		cur.Plans = plans
		cur.UpdatedAt = now
		saved = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}
