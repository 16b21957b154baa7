package repository

import (
	"context"
	"errors"
	"time"

	"entitlement_ledger/internal/domain/payment/model"
	"entitlement_ledger/pkg/kv"
)

type PaymentRepository interface {
	// CreateOrder 条件创建带 TTL 的订单，订单号已存在时返回 false
	CreateOrder(ctx context.Context, order *model.Order, ttl time.Duration) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, bool, error)
	// UpdateOrder 单键 CAS 修改订单，保留 TTL；fn 返回 kv.ErrNoChange 时不写回
	UpdateOrder(ctx context.Context, orderID string, fn func(order *model.Order) error) (*model.Order, error)
	// Persist 移除订单 TTL（已支付订单永久保留）
	Persist(ctx context.Context, orderID string) error
}

// ErrOrderGone CAS 期间订单已过期
var ErrOrderGone = errors.New("payment: order expired")

type paymentRepository struct {
	store kv.Store
}

func NewPaymentRepository(store kv.Store) PaymentRepository {
	return &paymentRepository{store: store}
}

func orderKey(orderID string) string {
	return "order:" + orderID
}

func (r *paymentRepository) CreateOrder(ctx context.Context, order *model.Order, ttl time.Duration) (bool, error) {
	return kv.SetNXJSON(ctx, r.store, orderKey(order.OrderID), order, ttl)
}

func (r *paymentRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, bool, error) {
	var order model.Order
	err := kv.GetJSON(ctx, r.store, orderKey(orderID), &order)
	if errors.Is(err, kv.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &order, true, nil
}

func (r *paymentRepository) UpdateOrder(ctx context.Context, orderID string, fn func(order *model.Order) error) (*model.Order, error) {
	var result model.Order
	err := kv.UpdateJSON(ctx, r.store, orderKey(orderID), func(cur *model.Order, exists bool) error {
		if !exists {
			// 不为已过期的订单重新创建记录
			return ErrOrderGone
		}
		err := fn(cur)
		result = *cur
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *paymentRepository) Persist(ctx context.Context, orderID string) error {
	return r.store.Persist(ctx, orderKey(orderID))
}
