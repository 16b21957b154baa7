package strategy

import (
	"context"
	"testing"

	"entitlement_ledger/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
)

func TestWechatTradeState(t *testing.T) {
	cases := map[string]TradeState{
		"SUCCESS":    TradeSuccess,
		"CLOSED":     TradeClosed,
		"PAYERROR":   TradeClosed,
		"REVOKED":    TradeClosed,
		"NOTPAY":     TradeWaiting,
		"USERPAYING": TradeWaiting,
		"REFUND":     TradeWaiting,
	}
	for state, want := range cases {
		t.Run(state, func(t *testing.T) {
			assert.Equal(t, want, wechatTradeState(state))
		})
	}
}

func TestWechatNotification(t *testing.T) {
	n, err := wechatNotification(&payments.Transaction{
		OutTradeNo:    core.String("OS1700000000001"),
		TransactionId: core.String("4200001234"),
		TradeState:    core.String("SUCCESS"),
		Amount:        &payments.TransactionAmount{Total: core.Int64(1990)},
	})
	require.NoError(t, err)
	assert.Equal(t, "OS1700000000001", n.OrderID)
	assert.Equal(t, "4200001234", n.TradeNo)
	assert.InDelta(t, 19.9, n.Amount, 0.001)
	assert.Equal(t, TradeSuccess, n.State)

	n, err = wechatNotification(&payments.Transaction{
		OutTradeNo: core.String("OS1700000000002"),
		TradeState: core.String("PAYERROR"),
		Amount:     &payments.TransactionAmount{Total: core.Int64(199)},
	})
	require.NoError(t, err)
	assert.Equal(t, TradeClosed, n.State)
	assert.Empty(t, n.TradeNo)

	_, err = wechatNotification(&payments.Transaction{OutTradeNo: core.String("OS1")})
	assert.ErrorIs(t, err, ErrSignature)
}

func TestWechatStrategy_Errors(t *testing.T) {
	_, err := NewWechatStrategy(context.Background(), config.WechatPayConfig{})
	assert.Error(t, err)

	s := &WechatStrategy{}
	_, err = s.Notify(context.Background(), "not a request")
	assert.Error(t, err)
}
