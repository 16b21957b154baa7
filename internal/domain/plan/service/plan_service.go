package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/domain/plan/repository"
	"entitlement_ledger/pkg/apperr"
)

type PlanService interface {
	List(ctx context.Context) (*model.Catalog, error)
	Get(ctx context.Context, id string) (*model.Plan, error)
	Replace(ctx context.Context, plans []model.Plan) (*model.Catalog, error)
	// FreeDailyLimit 免费套餐每日次数，目录中没有 free 时使用默认值
	FreeDailyLimit(ctx context.Context) (int, error)
}

type planService struct {
	repo         repository.PlanRepository
	defaults     []model.Plan
	defaultLimit int
	now          func() time.Time
}

// NewPlanService defaults 为目录不存在时使用的套餐列表
func NewPlanService(repo repository.PlanRepository, defaults []model.Plan, defaultDailyFree int) PlanService {
	return &planService{
		repo:         repo,
		defaults:     defaults,
		defaultLimit: defaultDailyFree,
		now:          time.Now,
	}
}

func (s *planService) List(ctx context.Context) (*model.Catalog, error) {
	holder := cacheFrom(ctx)
	if holder != nil && holder.catalog != nil {
		return holder.catalog, nil
	}

	catalog, found, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		catalog = &model.Catalog{Version: 0, Plans: s.defaults}
	}

	if holder != nil {
		holder.catalog = catalog
	}
	return catalog, nil
}

func (s *planService) Get(ctx context.Context, id string) (*model.Plan, error) {
	catalog, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := catalog.Find(id)
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("plan %q not found", id))
	}
	return &p, nil
}

func (s *planService) Replace(ctx context.Context, plans []model.Plan) (*model.Catalog, error) {
	if err := Validate(plans); err != nil {
		return nil, err
	}
	catalog, err := s.repo.Replace(ctx, plans, s.now())
	if err != nil {
		return nil, err
	}
	if holder := cacheFrom(ctx); holder != nil {
		holder.catalog = catalog
	}
	return catalog, nil
}

func (s *planService) FreeDailyLimit(ctx context.Context) (int, error) {
	catalog, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if p, ok := catalog.Find(model.PlanFree); ok && p.DailyFreeLimit > 0 {
		return p.DailyFreeLimit, nil
	}
	return s.defaultLimit, nil
}

// Validate 写入前校验整个目录
func Validate(plans []model.Plan) error {
	if len(plans) == 0 {
		return apperr.Validation("plan list is empty")
	}

	seen := make(map[string]struct{}, len(plans))
	for i, p := range plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return apperr.Validation(fmt.Sprintf("plan #%d: id is required", i))
		}
		if strings.TrimSpace(p.Label) == "" {
			return apperr.Validation(fmt.Sprintf("plan %q: label is required", id))
		}
		key := strings.ToLower(id)
		if _, dup := seen[key]; dup {
			return apperr.Validation(fmt.Sprintf("plan %q: duplicate id", id))
		}
		seen[key] = struct{}{}

		if p.ChatQuota < 0 || p.ImageQuota < 0 || p.DurationDays < 0 || p.DailyFreeLimit < 0 || p.Price < 0 {
			return apperr.Validation(fmt.Sprintf("plan %q: values must not be negative", id))
		}
		if p.IsFree() {
			if p.DailyFreeLimit <= 0 {
				return apperr.Validation("plan \"free\": dailyFreeLimit is required")
			}
			continue
		}
		if p.ChatQuota <= 0 {
			return apperr.Validation(fmt.Sprintf("plan %q: chatQuota is required", id))
		}
		if p.DurationDays <= 0 {
			return apperr.Validation(fmt.Sprintf("plan %q: durationDays is required", id))
		}
	}
	return nil
}
