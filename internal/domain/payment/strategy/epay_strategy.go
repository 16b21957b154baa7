package strategy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/pkg/apperr"

	"golang.org/x/time/rate"
)

// EpayStrategy 聚合支付网关：参数按键排序拼接后追加商户密钥取 MD5
type EpayStrategy struct {
	cfg     config.EpayConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewEpayStrategy(cfg config.EpayConfig) (*EpayStrategy, error) {
	if cfg.PID == "" || cfg.Key == "" || cfg.APIURL == "" {
		return nil, errors.New("epay config missing")
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &EpayStrategy{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// WithHTTPClient 替换 HTTP 客户端
func (s *EpayStrategy) WithHTTPClient(c *http.Client) *EpayStrategy {
	s.client = c
	return s
}

// Sign 对除 sign、sign_type 和空值以外的参数签名
func Sign(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(key)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

type epaySubmitResponse struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	TradeNo   string `json:"trade_no"`
	PayURL    string `json:"payurl"`
	QRCode    string `json:"qrcode"`
	URLScheme string `json:"urlscheme"`
}

func (s *EpayStrategy) supports(payType string) bool {
	if len(s.cfg.PayTypes) == 0 {
		return true
	}
	for _, t := range s.cfg.PayTypes {
		if t == payType {
			return true
		}
	}
	return false
}

// Pay 调用网关下单接口（mapi.php）
func (s *EpayStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	if !s.supports(req.PayType) {
		return nil, apperr.Validation(fmt.Sprintf("unsupported payType %q", req.PayType))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperr.Upstream("payment gateway throttled", err)
	}

	params := map[string]string{
		"pid":          s.cfg.PID,
		"type":         req.PayType,
		"out_trade_no": req.OrderID,
		"notify_url":   s.cfg.NotifyURL,
		"return_url":   s.cfg.ReturnURL,
		"name":         req.Subject,
		"money":        strconv.FormatFloat(req.Amount, 'f', 2, 64),
		"clientip":     req.ClientIP,
		"sitename":     s.cfg.SiteName,
	}
	params["sign"] = Sign(params, s.cfg.Key)
	params["sign_type"] = "MD5"

	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}

	endpoint := strings.TrimRight(s.cfg.APIURL, "/") + "/mapi.php"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Upstream("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Upstream("payment gateway error", fmt.Errorf("http status %d", resp.StatusCode))
	}

	var body epaySubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Upstream("payment gateway returned malformed response", err)
	}
	if body.Code != 1 {
		return nil, apperr.Upstream("payment gateway rejected order", errors.New(body.Msg))
	}

	payURL := body.PayURL
	if payURL == "" {
		payURL = body.URLScheme
	}
	return &PayResult{PayURL: payURL, QRContent: body.QRCode, TradeNo: body.TradeNo}, nil
}

// Notify 回调参数为 url.Values（GET query 或 POST form）
func (s *EpayStrategy) Notify(ctx context.Context, params interface{}) (*Notification, error) {
	values, ok := params.(url.Values)
	if !ok {
		return nil, errors.New("invalid params type, expected url.Values")
	}

	flat := make(map[string]string, len(values))
	for k := range values {
		flat[k] = values.Get(k)
	}

	// 1. 验证签名
	sign := flat["sign"]
	if sign == "" || !strings.EqualFold(sign, Sign(flat, s.cfg.Key)) {
		return nil, ErrSignature
	}
	if pid := flat["pid"]; pid != "" && pid != s.cfg.PID {
		return nil, ErrSignature
	}

	// 2. 检查交易状态
	state := TradeWaiting
	switch strings.ToUpper(flat["trade_status"]) {
	case "TRADE_SUCCESS", "SUCCESS":
		state = TradeSuccess
	case "TRADE_CLOSED", "CLOSED":
		state = TradeClosed
	}

	// 3. 解析金额
	amount, _ := strconv.ParseFloat(flat["money"], 64)

	return &Notification{
		OrderID: flat["out_trade_no"],
		TradeNo: flat["trade_no"],
		Amount:  amount,
		State:   state,
	}, nil
}

var _ PaymentStrategy = (*EpayStrategy)(nil)
