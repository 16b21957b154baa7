package config

import (
	"errors"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	App       AppConfig       `mapstructure:"app"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Plans     []PlanSeed      `mapstructure:"plans"`
	Coupon    CouponConfig    `mapstructure:"coupon"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Referral  ReferralConfig  `mapstructure:"referral"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Push      PushConfig      `mapstructure:"push"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// QuotaConfig 额度相关配置
type QuotaConfig struct {
	Timezone            string `mapstructure:"timezone"`               // 计算“当天”使用的业务时区
	DefaultDailyFree    int    `mapstructure:"default_daily_free"`     // 目录中没有 free 套餐时的每日免费次数
	FreeTrialDays       int    `mapstructure:"free_trial_days"`        // 免费试用期天数，0 表示不衰减
	FreeLimitAfterTrial int    `mapstructure:"free_limit_after_trial"` // 试用期后每日免费次数
}

// PlanSeed 目录为空时的默认套餐
type PlanSeed struct {
	ID             string  `mapstructure:"id"`
	Label          string  `mapstructure:"label"`
	ChatQuota      int     `mapstructure:"chat_quota"`
	ImageQuota     int     `mapstructure:"image_quota"`
	DurationDays   int     `mapstructure:"duration_days"`
	DailyFreeLimit int     `mapstructure:"daily_free_limit"`
	Price          float64 `mapstructure:"price"`
}

type CouponConfig struct {
	Prefix     string `mapstructure:"prefix"`
	IndexLimit int64  `mapstructure:"index_limit"` // 索引列表最多保留的条数
	MaxBatch   int    `mapstructure:"max_batch"`
}

type PaymentConfig struct {
	OrderTTL     time.Duration   `mapstructure:"order_ttl"`
	CouponSecret string          `mapstructure:"coupon_secret"` // 订单号 -> 兑换码的派生密钥
	Epay         EpayConfig      `mapstructure:"epay"`
	Alipay       AlipayConfig    `mapstructure:"alipay"`
	Wechat       WechatPayConfig `mapstructure:"wechat"`
}

// EpayConfig 聚合支付网关（MD5 签名）
type EpayConfig struct {
	PID        string        `mapstructure:"pid"`
	Key        string        `mapstructure:"key"`
	APIURL     string        `mapstructure:"api_url"`
	NotifyURL  string        `mapstructure:"notify_url"`
	ReturnURL  string        `mapstructure:"return_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"` // 调用网关的限速
	Burst      int           `mapstructure:"burst"`
	SiteName   string        `mapstructure:"site_name"`
	PayTypes   []string      `mapstructure:"pay_types"`
}

type AlipayConfig struct {
	AppID        string `mapstructure:"app_id"`
	PrivateKey   string `mapstructure:"private_key"`   // 应用私钥
	PublicKey    string `mapstructure:"public_key"`    // 支付宝公钥 (不是应用公钥)
	NotifyURL    string `mapstructure:"notify_url"`    // 异步通知地址
	IsProduction bool   `mapstructure:"is_production"` // 是否生产环境
}

type WechatPayConfig struct {
	AppID                string `mapstructure:"app_id"`
	MchID                string `mapstructure:"mch_id"`
	MchCertificateSerial string `mapstructure:"mch_cert_serial"`
	MchPrivateKey        string `mapstructure:"mch_private_key"`
	APIv3Key             string `mapstructure:"apiv3_key"`
	NotifyURL            string `mapstructure:"notify_url"`
}

// RewardConfig 邀请奖励
type RewardConfig struct {
	Plan  string `mapstructure:"plan"`
	Chat  int    `mapstructure:"chat"`
	Image int    `mapstructure:"image"`
	Days  int    `mapstructure:"days"`
}

type ReferralConfig struct {
	MaxClaims    int64        `mapstructure:"max_claims"`     // 每个分享码最多奖励次数
	IPDailyLimit int64        `mapstructure:"ip_daily_limit"` // 每个 IP 每天最多领取次数
	Referrer     RewardConfig `mapstructure:"referrer"`
	Referee      RewardConfig `mapstructure:"referee"`
}

// RateLimitConfig 接口级固定窗口限流（基于 KV，多实例共享）
type RateLimitConfig struct {
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"`        // e.g., "cn-hangzhou"
	OperatorAccount string `mapstructure:"operator_account"` // 运营告警接收账号
}

var GlobalConfig Config

// couponPrefixFormat 与券码格式 PREFIX-XXXX-XXXX 的前缀段一致
var couponPrefixFormat = regexp.MustCompile(`^[A-Za-z0-9]{2,6}$`)

// Location 业务时区，解析失败回退到 UTC+8
func (c QuotaConfig) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("CST", 8*3600)
}

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// Redis 配置验证
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	if !couponPrefixFormat.MatchString(c.Coupon.Prefix) {
		return errors.New("coupon.prefix must be 2-6 letters or digits")
	}
	if len(c.Payment.CouponSecret) < 16 {
		return errors.New("payment.coupon_secret should be at least 16 characters")
	}
	if c.Payment.OrderTTL <= 0 {
		return errors.New("payment.order_ttl must be positive")
	}
	if c.Referral.MaxClaims <= 0 || c.Referral.IPDailyLimit <= 0 {
		return errors.New("referral limits must be positive")
	}

	return nil
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ledger:")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)

	v.SetDefault("quota.timezone", "Asia/Shanghai")
	v.SetDefault("quota.default_daily_free", 5)
	v.SetDefault("quota.free_trial_days", 0)
	v.SetDefault("quota.free_limit_after_trial", 2)

	v.SetDefault("coupon.prefix", "OS")
	v.SetDefault("coupon.index_limit", 10000)
	v.SetDefault("coupon.max_batch", 500)

	v.SetDefault("payment.order_ttl", 30*time.Minute)
	v.SetDefault("payment.epay.timeout", 10*time.Second)
	v.SetDefault("payment.epay.rate_per_sec", 20)
	v.SetDefault("payment.epay.burst", 40)
	v.SetDefault("payment.epay.site_name", "AI Assistant")
	v.SetDefault("payment.epay.pay_types", []string{"alipay", "wxpay"})

	v.SetDefault("referral.max_claims", 100)
	v.SetDefault("referral.ip_daily_limit", 3)
	v.SetDefault("referral.referrer.plan", "trial")
	v.SetDefault("referral.referrer.chat", 50)
	v.SetDefault("referral.referrer.image", 5)
	v.SetDefault("referral.referrer.days", 3)
	v.SetDefault("referral.referee.plan", "trial")
	v.SetDefault("referral.referee.chat", 30)
	v.SetDefault("referral.referee.image", 3)
	v.SetDefault("referral.referee.days", 3)

	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("push.region_id", "cn-hangzhou")
}

// DefaultPlans 内置套餐目录
func DefaultPlans() []PlanSeed {
	return []PlanSeed{
		{ID: "free", Label: "免费版", DailyFreeLimit: 5},
		{ID: "trial", Label: "体验卡", ChatQuota: 100, ImageQuota: 10, DurationDays: 3, Price: 1.99},
		{ID: "monthly", Label: "月卡", ChatQuota: 500, ImageQuota: 50, DurationDays: 30, Price: 19.9},
		{ID: "quarterly", Label: "季卡", ChatQuota: 1800, ImageQuota: 180, DurationDays: 90, Price: 49.9},
	}
}

// LoadConfig 加载配置
func LoadConfig() {
	// .env 可选，仅用于本地开发
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量：REDIS_ADDR -> redis.addr
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，AutomaticEnv 对未出现在配置文件中的嵌套键不生效
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if secret := os.Getenv("PAYMENT_COUPON_SECRET"); secret != "" {
		GlobalConfig.Payment.CouponSecret = secret
	}
	if key := os.Getenv("EPAY_KEY"); key != "" {
		GlobalConfig.Payment.Epay.Key = key
	}
	if len(GlobalConfig.Plans) == 0 {
		GlobalConfig.Plans = DefaultPlans()
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
