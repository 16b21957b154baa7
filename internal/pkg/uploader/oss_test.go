package uploader

import (
	"strings"
	"testing"
	"time"

	"entitlement_ledger/internal/pkg/config"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	name := ObjectName("coupons/export", ".csv", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(name, "coupons/export/20250309/"))
	assert.True(t, strings.HasSuffix(name, ".csv"))
	assert.Len(t, name, len("coupons/export/20250309/")+36+len(".csv"))
}

func TestNewAliyunOSSUploader_MissingConfig(t *testing.T) {
	_, err := NewAliyunOSSUploader(config.OSSConfig{})
	assert.Error(t, err)
}
