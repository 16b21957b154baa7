package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"entitlement_ledger/internal/pkg/config"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// WechatStrategy 微信 Native 支付，返回 code_url 供前端渲染二维码
type WechatStrategy struct {
	client  *core.Client
	config  config.WechatPayConfig
	handler *notify.Handler
}

func NewWechatStrategy(ctx context.Context, cfg config.WechatPayConfig) (*WechatStrategy, error) {
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, err
	}

	// 2. 初始化 Client（自动下载平台证书）
	opts := []core.ClientOption{
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	}
	client, err := core.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// 3. 初始化 Notify Handler，使用平台证书验签
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler := notify.NewNotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	return &WechatStrategy{
		client:  client,
		config:  cfg,
		handler: handler,
	}, nil
}

// Fen 元转分，四舍五入避免浮点误差
func Fen(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (s *WechatStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	prepay := native.PrepayRequest{
		Appid:       core.String(s.config.AppID),
		Mchid:       core.String(s.config.MchID),
		Description: core.String(req.Subject),
		OutTradeNo:  core.String(req.OrderID),
		NotifyUrl:   core.String(s.config.NotifyURL),
		Amount: &native.Amount{
			Total: core.Int64(Fen(req.Amount)),
		},
	}

	svc := native.NativeApiService{Client: s.client}
	resp, _, err := svc.Prepay(ctx, prepay)
	if err != nil {
		return nil, err
	}
	if resp.CodeUrl == nil {
		return nil, errors.New("wechat prepay returned no code_url")
	}
	return &PayResult{QRContent: *resp.CodeUrl}, nil
}

// Notify 参数为 *http.Request，签名信息在 Header 中
func (s *WechatStrategy) Notify(ctx context.Context, params interface{}) (*Notification, error) {
	req, ok := params.(*http.Request)
	if !ok {
		return nil, errors.New("invalid params type, expected *http.Request")
	}

	transaction := new(payments.Transaction)
	if _, err := s.handler.ParseNotifyRequest(ctx, req, transaction); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return wechatNotification(transaction)
}

// wechatTradeState NOTPAY/USERPAYING 等状态继续等待
func wechatTradeState(state string) TradeState {
	switch state {
	case "SUCCESS":
		return TradeSuccess
	case "CLOSED", "PAYERROR", "REVOKED":
		return TradeClosed
	}
	return TradeWaiting
}

func wechatNotification(transaction *payments.Transaction) (*Notification, error) {
	if transaction.OutTradeNo == nil || transaction.TradeState == nil || transaction.Amount == nil || transaction.Amount.Total == nil {
		return nil, fmt.Errorf("%w: incomplete transaction", ErrSignature)
	}

	n := &Notification{
		OrderID: *transaction.OutTradeNo,
		Amount:  float64(*transaction.Amount.Total) / 100.0,
		State:   wechatTradeState(*transaction.TradeState),
	}
	if transaction.TransactionId != nil {
		n.TradeNo = *transaction.TransactionId
	}
	return n, nil
}

var _ PaymentStrategy = (*WechatStrategy)(nil)
