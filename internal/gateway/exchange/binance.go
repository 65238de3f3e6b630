package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tiller/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BinanceExecutor places spot orders through the Binance REST API. Requests
// flagged for simulation go to the exchange's validate-only test endpoint and
// never place a live order.
type BinanceExecutor struct {
	client *binance.Client
	// submit and verify wrap the SDK calls so order routing is testable
	// without the live API.
	submit func(ctx context.Context, svc *binance.CreateOrderService) (*binance.CreateOrderResponse, error)
	verify func(ctx context.Context, svc *binance.CreateOrderService) error
}

func NewBinanceExecutor(apiKey, secretKey string) *BinanceExecutor {
	return &BinanceExecutor{
		client: binance.NewClient(apiKey, secretKey),
		submit: func(ctx context.Context, svc *binance.CreateOrderService) (*binance.CreateOrderResponse, error) {
			return svc.Do(ctx)
		},
		verify: func(ctx context.Context, svc *binance.CreateOrderService) error {
			return svc.Test(ctx)
		},
	}
}

// UseTestnet routes subsequent API calls to the spot testnet. The underlying
// SDK keys this off a package-level switch, so it applies process-wide.
func (e *BinanceExecutor) UseTestnet(enable bool) {
	binance.UseTestnet = enable
}

func (e *BinanceExecutor) Execute(ctx context.Context, userID string, req OrderRequest) (OrderResult, error) {
	symbol := strings.ReplaceAll(strings.ToUpper(req.Symbol), "/", "")
	qty := decimal.NewFromFloat(req.Quantity)

	svc := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType(req.Side)).
		Quantity(qty.String())

	switch strings.ToLower(req.OrderType) {
	case "limit":
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(decimal.NewFromFloat(req.Price).String())
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	if req.Simulate {
		if err := e.verify(ctx, svc); err != nil {
			return OrderResult{Error: err.Error()}, fmt.Errorf("binance order test %s %s: %w", req.Side, symbol, err)
		}
		id := "sim-" + uuid.NewString()
		logger.Infof("binance: simulated order user=%s symbol=%s side=%s qty=%s trade=%s",
			userID, symbol, req.Side, qty.String(), id)
		return OrderResult{Success: true, TradeID: id}, nil
	}

	res, err := e.submit(ctx, svc)
	if err != nil {
		return OrderResult{Error: err.Error()}, fmt.Errorf("binance order %s %s: %w", req.Side, symbol, err)
	}
	logger.Infof("binance: order placed user=%s symbol=%s side=%s qty=%s order_id=%d",
		userID, symbol, req.Side, qty.String(), res.OrderID)
	return OrderResult{Success: true, TradeID: strconv.FormatInt(res.OrderID, 10)}, nil
}

// StopAll cancels all open orders for the user's tracked symbols. Positions
// stay untouched: flattening spot holdings automatically is a bigger hammer
// than an emergency stop should swing.
func (e *BinanceExecutor) StopAll(ctx context.Context, userID, reason string) error {
	open, err := e.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance list open orders: %w", err)
	}
	var failed int
	for _, o := range open {
		_, err := e.client.NewCancelOrderService().
			Symbol(o.Symbol).OrderID(o.OrderID).Do(ctx)
		if err != nil {
			failed++
			logger.Warnf("binance: cancel failed user=%s symbol=%s order_id=%d err=%v", userID, o.Symbol, o.OrderID, err)
		}
	}
	logger.Infof("binance: emergency stop user=%s reason=%q cancelled=%d failed=%d",
		userID, reason, len(open)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("emergency stop left %d orders open", failed)
	}
	return nil
}

// Snapshot reads account balances and marks them against current prices.
func (e *BinanceExecutor) Snapshot(ctx context.Context, userID string) (PortfolioSnapshot, error) {
	acct, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("binance account: %w", err)
	}
	prices, err := e.client.NewListPricesService().Do(ctx)
	if err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("binance prices: %w", err)
	}
	priceMap := make(map[string]float64, len(prices))
	for _, p := range prices {
		if v, err := strconv.ParseFloat(p.Price, 64); err == nil {
			priceMap[p.Symbol] = v
		}
	}

	total := decimal.Zero
	for _, b := range acct.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		amount := free.Add(locked)
		if amount.IsZero() {
			continue
		}
		asset := strings.ToUpper(b.Asset)
		if asset == "USDT" || asset == "USDC" {
			total = total.Add(amount)
			continue
		}
		if mark, ok := priceMap[asset+"USDT"]; ok {
			total = total.Add(amount.Mul(decimal.NewFromFloat(mark)))
		}
	}
	value, _ := total.Float64()
	return PortfolioSnapshot{TotalValueUSD: value, Prices: priceMap}, nil
}

func sideType(side string) binance.SideType {
	if strings.EqualFold(side, "sell") {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}
