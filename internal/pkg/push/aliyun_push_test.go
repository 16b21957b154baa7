package push

import (
	"testing"

	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/worker"

	"github.com/stretchr/testify/assert"
)

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(123, "ops", worker.AlertTask{
		Title:  "reconciliation gap",
		Body:   "order not found",
		Fields: map[string]string{"order_id": "OS1"},
	})

	assert.Equal(t, "ACCOUNT", req.Target)
	assert.Equal(t, "ops", req.TargetValue)
	assert.Equal(t, "reconciliation gap", req.Title)
	assert.JSONEq(t, `{"order_id":"OS1"}`, req.AndroidExtParameters)
	assert.Equal(t, req.AndroidExtParameters, req.IOSExtParameters)
}

func TestNewAliyunPushService_MissingConfig(t *testing.T) {
	_, err := NewAliyunPushService(config.PushConfig{})
	assert.Error(t, err)

	_, err = NewAliyunPushService(config.PushConfig{AccessKeyID: "id", AppKey: 1})
	assert.Error(t, err)
}
