package service

import (
	"context"

	"entitlement_ledger/internal/domain/plan/model"
)

type cacheKey struct{}

// catalogHolder 单个请求内共享的目录缓存，首次读取时填充
type catalogHolder struct {
	catalog *model.Catalog
}

// WithCatalogCache 为 ctx 挂载请求级目录缓存
func WithCatalogCache(ctx context.Context) context.Context {
	if cacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, cacheKey{}, &catalogHolder{})
}

func cacheFrom(ctx context.Context) *catalogHolder {
	h, _ := ctx.Value(cacheKey{}).(*catalogHolder)
	return h
}
