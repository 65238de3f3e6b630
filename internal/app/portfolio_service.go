package app

import (
	"context"

	"tiller/internal/gateway/exchange"
)

// portfolioService answers portfolio-analysis routing from the exchange
// snapshot; the platform's richer portfolio service replaces it when one is
// configured.
type portfolioService struct {
	reader exchange.PortfolioReader
}

func (s *portfolioService) Handle(ctx context.Context, userID string, args map[string]any) (map[string]any, error) {
	snap, err := s.reader.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_value_usd": snap.TotalValueUSD,
		"prices":          snap.Prices,
	}, nil
}
