package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"entitlement_ledger/internal/pkg/config"

	"github.com/smartwalle/alipay/v3"
)

type AlipayStrategy struct {
	client *alipay.Client
	config config.AlipayConfig
}

func NewAlipayStrategy(cfg config.AlipayConfig) (*AlipayStrategy, error) {
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	return &AlipayStrategy{
		client: client,
		config: cfg,
	}, nil
}

// Pay 生成 App 支付的签名参数串，客户端拿它唤起支付宝
func (s *AlipayStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	p := alipay.TradeAppPay{}
	p.NotifyURL = s.config.NotifyURL
	p.Subject = req.Subject
	p.OutTradeNo = req.OrderID
	p.TotalAmount = fmt.Sprintf("%.2f", req.Amount)
	p.ProductCode = "QUICK_MSECURITY_PAY" // App支付产品码

	result, err := s.client.TradeAppPay(p)
	if err != nil {
		return nil, err
	}
	return &PayResult{AppParams: result}, nil
}

// Notify 参数为 url.Values (POST form)
func (s *AlipayStrategy) Notify(ctx context.Context, params interface{}) (*Notification, error) {
	values, ok := params.(url.Values)
	if !ok {
		return nil, errors.New("invalid params type, expected url.Values")
	}

	// 1. 验证签名
	noti, err := s.client.DecodeNotification(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	return alipayNotification(noti)
}

// alipayTradeState TRADE_SUCCESS 或 TRADE_FINISHED 表示成功
func alipayTradeState(status alipay.TradeStatus) TradeState {
	switch status {
	case alipay.TradeStatusSuccess, alipay.TradeStatusFinished:
		return TradeSuccess
	case alipay.TradeStatusClosed:
		return TradeClosed
	}
	return TradeWaiting
}

func alipayNotification(noti *alipay.Notification) (*Notification, error) {
	if noti.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrSignature)
	}
	amount, err := strconv.ParseFloat(noti.TotalAmount, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad total_amount %q", ErrSignature, noti.TotalAmount)
	}
	return &Notification{
		OrderID: noti.OutTradeNo,
		TradeNo: noti.TradeNo,
		Amount:  amount,
		State:   alipayTradeState(noti.TradeStatus),
	}, nil
}

// 确保实现了接口
var _ PaymentStrategy = (*AlipayStrategy)(nil)
