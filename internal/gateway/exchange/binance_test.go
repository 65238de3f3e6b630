package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubbedBinance() (*BinanceExecutor, *int, *int) {
	e := NewBinanceExecutor("key", "secret")
	submitted, verified := 0, 0
	e.submit = func(ctx context.Context, svc *binance.CreateOrderService) (*binance.CreateOrderResponse, error) {
		submitted++
		return &binance.CreateOrderResponse{OrderID: 42}, nil
	}
	e.verify = func(ctx context.Context, svc *binance.CreateOrderService) error {
		verified++
		return nil
	}
	return e, &submitted, &verified
}

func TestBinanceSimulatedOrderNeverPlaced(t *testing.T) {
	e, submitted, verified := newStubbedBinance()

	res, err := e.Execute(context.Background(), "alice", OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 0.5, Simulate: true,
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.TradeID, "sim-"))
	assert.Equal(t, 0, *submitted, "simulated requests must not reach live placement")
	assert.Equal(t, 1, *verified)
}

func TestBinanceLiveOrderPlaced(t *testing.T) {
	e, submitted, verified := newStubbedBinance()

	res, err := e.Execute(context.Background(), "alice", OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Quantity: 0.5, Simulate: false,
	})

	require.NoError(t, err)
	assert.Equal(t, "42", res.TradeID)
	assert.Equal(t, 1, *submitted)
	assert.Equal(t, 0, *verified)
}

func TestBinanceSimulatedOrderReportsTestFailure(t *testing.T) {
	e, submitted, _ := newStubbedBinance()
	e.verify = func(ctx context.Context, svc *binance.CreateOrderService) error {
		return errors.New("insufficient balance")
	}

	_, err := e.Execute(context.Background(), "alice", OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 0.5, Simulate: true,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Equal(t, 0, *submitted)
}
