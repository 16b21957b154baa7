package push

import (
	"context"
	"encoding/json"
	"fmt"

	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/internal/pkg/worker"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/push"
)

// AliyunPushService 通过阿里云推送把运营告警发到值班账号
type AliyunPushService struct {
	client   *push.Client
	appKey   int64
	operator string
}

func NewAliyunPushService(cfg config.PushConfig) (*AliyunPushService, error) {
	// 配置不完整时由调用方降级为仅记录日志
	if cfg.AccessKeyID == "" || cfg.AppKey == 0 {
		return nil, fmt.Errorf("push config is missing")
	}
	if cfg.OperatorAccount == "" {
		return nil, fmt.Errorf("push operator_account is missing")
	}

	client, err := push.NewClientWithAccessKey(
		cfg.RegionID,
		cfg.AccessKeyID,
		cfg.AccessKeySecret,
	)
	if err != nil {
		return nil, err
	}

	return &AliyunPushService{
		client:   client,
		appKey:   cfg.AppKey,
		operator: cfg.OperatorAccount,
	}, nil
}

// Send 实现 worker.Sender
func (s *AliyunPushService) Send(ctx context.Context, task worker.AlertTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	request := BuildRequest(s.appKey, s.operator, task)
	_, err := s.client.Push(request)
	return err
}

// BuildRequest 组装推送请求，告警字段作为扩展参数
func BuildRequest(appKey int64, account string, task worker.AlertTask) *push.PushRequest {
	request := push.CreatePushRequest()
	request.AppKey = requests.NewInteger(int(appKey))
	request.Target = "ACCOUNT"
	request.TargetValue = account
	request.Title = task.Title
	request.Body = task.Body
	request.DeviceType = "ALL"  // iOS & Android
	request.PushType = "NOTICE" // 通知

	if len(task.Fields) > 0 {
		extJSON, _ := json.Marshal(task.Fields)
		request.AndroidExtParameters = string(extJSON)
		request.IOSExtParameters = string(extJSON)
	}
	return request
}
