package decision

import (
	"encoding/json"
	"strings"

	"tiller/internal/mode"

	"github.com/tidwall/gjson"
)

// Typed payload variants per decision type. The recommendation service emits
// loosely-keyed JSON; normalization happens here, once, at the edge, so the
// rest of the pipeline sees concrete fields.

// TradePayload is the canonical single-trade request.
type TradePayload struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	OrderType  string  `json:"order_type"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	StrategyID string  `json:"strategy_id,omitempty"`
	// Simulate is tri-state: nil falls through to user config, then true.
	Simulate *bool `json:"simulate,omitempty"`
}

// PlannedTrade is one leg of a rebalancing plan, in plan order.
type PlannedTrade struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
}

// RebalancePayload carries the trade list extracted from a recommendation.
type RebalancePayload struct {
	Strategy string         `json:"strategy"`
	Trades   []PlannedTrade `json:"trades"`
	// Simulate is tri-state like the trade payload's flag.
	Simulate *bool `json:"simulate,omitempty"`
}

type ModeChangePayload struct {
	Target mode.OperationMode `json:"target"`
}

type EmergencyPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParseTradePayload normalizes loose recommendation JSON into a canonical
// trade request. Missing symbol/side surface later as validation errors;
// this function only maps keys.
func ParseTradePayload(raw json.RawMessage) TradePayload {
	r := gjson.ParseBytes(raw)
	p := TradePayload{
		Symbol:     upper(firstString(r, "symbol", "ticker", "asset")),
		Side:       lower(firstString(r, "side", "action", "direction")),
		Quantity:   firstFloat(r, "quantity", "qty", "amount", "size"),
		OrderType:  lower(firstString(r, "order_type", "type")),
		Price:      firstFloat(r, "price", "limit_price"),
		StopLoss:   firstFloat(r, "stop_loss", "sl"),
		TakeProfit: firstFloat(r, "take_profit", "tp"),
		StrategyID: firstString(r, "strategy_id", "strategy"),
	}
	if p.OrderType == "" {
		p.OrderType = "market"
	}
	switch p.Side {
	case "long":
		p.Side = "buy"
	case "short":
		p.Side = "sell"
	}
	if sim := r.Get("simulate"); sim.Exists() {
		v := sim.Bool()
		p.Simulate = &v
	} else if sim := r.Get("simulation"); sim.Exists() {
		v := sim.Bool()
		p.Simulate = &v
	}
	return p
}

// ParseRebalancePayload extracts the ordered trade list and strategy name.
func ParseRebalancePayload(raw json.RawMessage) RebalancePayload {
	r := gjson.ParseBytes(raw)
	out := RebalancePayload{
		Strategy: firstString(r, "strategy", "strategy_name", "plan"),
	}
	trades := r.Get("trades")
	if !trades.Exists() {
		trades = r.Get("orders")
	}
	trades.ForEach(func(_, t gjson.Result) bool {
		out.Trades = append(out.Trades, PlannedTrade{
			Symbol:   upper(firstString(t, "symbol", "ticker", "asset")),
			Side:     lower(firstString(t, "side", "action", "direction")),
			Quantity: firstFloat(t, "quantity", "qty", "amount"),
			Price:    firstFloat(t, "price", "limit_price"),
		})
		return true
	})
	if sim := r.Get("simulate"); sim.Exists() {
		v := sim.Bool()
		out.Simulate = &v
	} else if sim := r.Get("simulation"); sim.Exists() {
		v := sim.Bool()
		out.Simulate = &v
	}
	return out
}

// ParseModeChangePayload reads the requested target mode.
func ParseModeChangePayload(raw json.RawMessage) ModeChangePayload {
	r := gjson.ParseBytes(raw)
	target := lower(firstString(r, "target", "mode", "target_mode"))
	return ModeChangePayload{Target: mode.OperationMode(target)}
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstFloat(r gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Float() != 0 {
			return v.Float()
		}
	}
	return 0
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
