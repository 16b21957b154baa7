package service

import (
	"context"
	"testing"
	"time"

	"entitlement_ledger/internal/domain/plan/model"
	"entitlement_ledger/internal/domain/plan/repository"
	"entitlement_ledger/internal/testutil"
	"entitlement_ledger/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func defaultPlans() []model.Plan {
	return []model.Plan{
		{ID: "free", Label: "Free", DailyFreeLimit: 5},
		{ID: "monthly", Label: "Monthly", ChatQuota: 500, ImageQuota: 50, DurationDays: 30, Price: 19.9},
	}
}

func setupPlanService(t *testing.T) PlanService {
	t.Helper()
	store, _ := testutil.SetupTestStore(t)
	return NewPlanService(repository.NewPlanRepository(store), defaultPlans(), 3)
}

func TestPlanService_ListFallsBackToDefaults(t *testing.T) {
	svc := setupPlanService(t)

	catalog, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), catalog.Version)
	assert.Len(t, catalog.Plans, 2)
}

func TestPlanService_Get(t *testing.T) {
	svc := setupPlanService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, "MONTHLY")
	require.NoError(t, err)
	assert.Equal(t, 500, p.ChatQuota)

	_, err = svc.Get(ctx, "lifetime")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPlanService_Replace(t *testing.T) {
	svc := setupPlanService(t)
	ctx := context.Background()

	plans := []model.Plan{
		{ID: "free", Label: "Free", DailyFreeLimit: 10},
		{ID: "trial", Label: "Trial", ChatQuota: 100, ImageQuota: 10, DurationDays: 3, Price: 1.99},
	}

	catalog, err := svc.Replace(ctx, plans)
	require.NoError(t, err)
	assert.Equal(t, int64(1), catalog.Version)

	catalog, err = svc.Replace(ctx, plans)
	require.NoError(t, err)
	assert.Equal(t, int64(2), catalog.Version)

	limit, err := svc.FreeDailyLimit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	_, err = svc.Get(ctx, "monthly")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "replaced catalog drops old plans")
}

func TestPlanService_FreeDailyLimitDefault(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	svc := NewPlanService(repository.NewPlanRepository(store), []model.Plan{
		{ID: "monthly", Label: "Monthly", ChatQuota: 1, DurationDays: 1},
	}, 3)

	limit, err := svc.FreeDailyLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, limit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		plans []model.Plan
		ok    bool
	}{
		{"valid", defaultPlans(), true},
		{"empty list", nil, false},
		{"missing id", []model.Plan{{Label: "x", ChatQuota: 1, DurationDays: 1}}, false},
		{"missing label", []model.Plan{{ID: "x", ChatQuota: 1, DurationDays: 1}}, false},
		{"duplicate id ignoring case", []model.Plan{
			{ID: "pro", Label: "a", ChatQuota: 1, DurationDays: 1},
			{ID: "PRO", Label: "b", ChatQuota: 1, DurationDays: 1},
		}, false},
		{"paid plan without chat quota", []model.Plan{{ID: "pro", Label: "a", DurationDays: 1}}, false},
		{"paid plan without duration", []model.Plan{{ID: "pro", Label: "a", ChatQuota: 1}}, false},
		{"negative price", []model.Plan{{ID: "pro", Label: "a", ChatQuota: 1, DurationDays: 1, Price: -1}}, false},
		{"free plan without limit", []model.Plan{{ID: "free", Label: "Free"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.plans)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

// MockPlanRepository is a mock of PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Load(ctx context.Context) (*model.Catalog, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Catalog), args.Bool(1), args.Error(2)
}

func (m *MockPlanRepository) Replace(ctx context.Context, plans []model.Plan, now time.Time) (*model.Catalog, error) {
	args := m.Called(ctx, plans, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Catalog), args.Error(1)
}

func TestPlanService_RequestCache(t *testing.T) {
	mockRepo := new(MockPlanRepository)
	svc := NewPlanService(mockRepo, defaultPlans(), 3)

	stored := &model.Catalog{Version: 7, Plans: defaultPlans()}
	mockRepo.On("Load", mock.Anything).Return(stored, true, nil).Once()

	ctx := WithCatalogCache(context.Background())
	for i := 0; i < 3; i++ {
		catalog, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), catalog.Version)
	}
	_, err := svc.Get(ctx, "monthly")
	require.NoError(t, err)

	mockRepo.AssertNumberOfCalls(t, "Load", 1)
}

func TestPlanService_StorageErrorPropagates(t *testing.T) {
	mockRepo := new(MockPlanRepository)
	svc := NewPlanService(mockRepo, defaultPlans(), 3)
	mockRepo.On("Load", mock.Anything).Return(nil, false, apperr.Storage("kv get", assert.AnError))

	_, err := svc.Get(context.Background(), "monthly")
	assert.ErrorIs(t, err, apperr.ErrStorage)
}
