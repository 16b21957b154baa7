package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Coupon:   CouponConfig{Prefix: "OS"},
		JWT:      JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
		Payment:  PaymentConfig{OrderTTL: 30 * time.Minute, CouponSecret: "0123456789abcdef"},
		Referral: ReferralConfig{MaxClaims: 100, IPDailyLimit: 3},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("short jwt secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWT.Secret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing coupon secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Payment.CouponSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("coupon prefix", func(t *testing.T) {
		for _, prefix := range []string{"", "O", "OPENSPEECH", "O-S", "券码"} {
			cfg := validConfig()
			cfg.Coupon.Prefix = prefix
			assert.Error(t, cfg.Validate(), prefix)
		}
		for _, prefix := range []string{"OS", "vip", "GIFT26"} {
			cfg := validConfig()
			cfg.Coupon.Prefix = prefix
			assert.NoError(t, cfg.Validate(), prefix)
		}
	})

	t.Run("non positive referral cap", func(t *testing.T) {
		cfg := validConfig()
		cfg.Referral.MaxClaims = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	assert.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 30*time.Minute, cfg.Payment.OrderTTL)
	assert.Equal(t, "ledger:", cfg.Redis.KeyPrefix)
	assert.Equal(t, int64(100), cfg.Referral.MaxClaims)
	assert.Equal(t, []string{"alipay", "wxpay"}, cfg.Payment.Epay.PayTypes)
}

func TestQuotaConfig_Location(t *testing.T) {
	loc := QuotaConfig{Timezone: "Not/AZone"}.Location()
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 8*3600, offset)
}

func TestDefaultPlans_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range DefaultPlans() {
		assert.False(t, seen[p.ID], p.ID)
		seen[p.ID] = true
	}
	assert.True(t, seen["free"])
}
