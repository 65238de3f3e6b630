package rebalance

import (
	"fmt"
	"regexp"
	"strings"

	"tiller/internal/decision"
	"tiller/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

const (
	minBatchSize = 2
	maxBatchSize = 20

	// Portfolio must be worth at least this much before a batch runs.
	minPortfolioValueUSD = 100

	// Single-trade and whole-batch notional caps, as fractions of portfolio
	// value. The batch cap is the turnover cap.
	maxTradeNotionalPct = 50
	maxTurnoverPct      = 90
)

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// validateUserID rejects malformed and system-reserved principals.
func validateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return decision.Invalid("user_id", "malformed user id")
	}
	lower := strings.ToLower(userID)
	if lower == "system" || lower == "root" || strings.HasPrefix(lower, "system.") {
		return decision.Invalid("user_id", "system principals cannot rebalance")
	}
	return nil
}

func validateStrategy(strategy string, allowed []string) error {
	s := strings.ToLower(strings.TrimSpace(strategy))
	if s == "" {
		return decision.Invalid("strategy", "strategy name is required")
	}
	for _, a := range allowed {
		if s == strings.ToLower(strings.TrimSpace(a)) {
			return nil
		}
	}
	return decision.Invalid("strategy", fmt.Sprintf("strategy %q is not in the allow-list", strategy))
}

// validateBatch checks the whole trade list against the current portfolio
// snapshot before any funds move. All money math is decimal.
func validateBatch(trades []decision.PlannedTrade, snap exchange.PortfolioSnapshot) error {
	if len(trades) < minBatchSize {
		return decision.Invalid("trades", fmt.Sprintf("batch of %d is below the %d-trade minimum; single trades go through the trade path", len(trades), minBatchSize))
	}
	if len(trades) > maxBatchSize {
		return decision.Invalid("trades", fmt.Sprintf("batch of %d exceeds the %d-trade maximum", len(trades), maxBatchSize))
	}

	portfolio := decimal.NewFromFloat(snap.TotalValueUSD)
	if portfolio.LessThan(decimal.NewFromInt(minPortfolioValueUSD)) {
		return decision.Invalid("portfolio", fmt.Sprintf("portfolio value %.2f below the %d USD floor", snap.TotalValueUSD, minPortfolioValueUSD))
	}

	tradeCap := portfolio.Mul(decimal.NewFromInt(maxTradeNotionalPct)).Div(decimal.NewFromInt(100))
	turnoverCap := portfolio.Mul(decimal.NewFromInt(maxTurnoverPct)).Div(decimal.NewFromInt(100))

	total := decimal.Zero
	for i, t := range trades {
		if strings.TrimSpace(t.Symbol) == "" {
			return decision.Invalid(fmt.Sprintf("trades[%d].symbol", i), "symbol is required")
		}
		side := strings.ToLower(strings.TrimSpace(t.Side))
		if side != "buy" && side != "sell" {
			return decision.Invalid(fmt.Sprintf("trades[%d].side", i), fmt.Sprintf("side must be buy or sell, got %q", t.Side))
		}
		if t.Quantity <= 0 {
			return decision.Invalid(fmt.Sprintf("trades[%d].quantity", i), "quantity must be positive")
		}
		notional, err := tradeNotional(t, snap)
		if err != nil {
			return decision.Invalid(fmt.Sprintf("trades[%d]", i), err.Error())
		}
		if notional.GreaterThan(tradeCap) {
			return decision.Invalid(fmt.Sprintf("trades[%d]", i),
				fmt.Sprintf("notional %s exceeds %d%% of portfolio value", notional.StringFixed(2), maxTradeNotionalPct))
		}
		total = total.Add(notional)
	}
	if total.GreaterThan(turnoverCap) {
		return decision.Invalid("trades",
			fmt.Sprintf("total turnover %s exceeds the %d%% cap", total.StringFixed(2), maxTurnoverPct))
	}
	return nil
}

// tradeNotional prices a trade with the snapshot mark, falling back to the
// plan's limit price.
func tradeNotional(t decision.PlannedTrade, snap exchange.PortfolioSnapshot) (decimal.Decimal, error) {
	price := snap.Prices[strings.ToUpper(strings.TrimSpace(t.Symbol))]
	if price <= 0 {
		price = t.Price
	}
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("no price available for %s", t.Symbol)
	}
	return decimal.NewFromFloat(t.Quantity).Mul(decimal.NewFromFloat(price)), nil
}
