package registry

import (
	"fmt"
	"sort"
	"time"

	"entitlement_ledger/pkg/kv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Alerter 运营告警投递接口（对账缺口、签名异常等）
type Alerter interface {
	Alert(title, body string, fields map[string]string)
}

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	Store  kv.Store
	Redis  *redis.Client
	Router *gin.Engine
	Alerts Alerter
	// Now 时钟，测试中可替换
	Now func() time.Time
}

// Clock 返回上下文时钟，未设置时使用 time.Now
func (c *ModuleContext) Clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块，重复注册同名模块会 panic
func Register(module Module) {
	if _, exists := moduleRegistry[module.Name()]; exists {
		panic(fmt.Sprintf("registry: module %q registered twice", module.Name()))
	}
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// Ordered 按优先级返回模块，同优先级按名称排序
func Ordered() []Module {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}
	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})
	return modules
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	for _, module := range Ordered() {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
	}
	return nil
}
