package exchange

import (
	"context"
	"strings"
	"sync"

	"tiller/internal/logger"

	"github.com/google/uuid"
)

// Simulator is the default executor: it fills everything instantly and keeps
// a per-user order journal. Tests inject failures per symbol.
type Simulator struct {
	mu       sync.Mutex
	orders   map[string][]OrderRequest
	failures map[string]error
	// snapshot returned by Snapshot; settable so flows see a stable portfolio.
	snapshot PortfolioSnapshot
}

func NewSimulator() *Simulator {
	return &Simulator{
		orders:   make(map[string][]OrderRequest),
		failures: make(map[string]error),
		snapshot: PortfolioSnapshot{TotalValueUSD: 100_000, Prices: map[string]float64{}},
	}
}

// FailSymbol makes every execution for symbol return err. Test hook.
func (s *Simulator) FailSymbol(symbol string, err error) {
	s.mu.Lock()
	s.failures[strings.ToUpper(symbol)] = err
	s.mu.Unlock()
}

// SetSnapshot overrides the portfolio snapshot.
func (s *Simulator) SetSnapshot(snap PortfolioSnapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Simulator) Execute(ctx context.Context, userID string, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{Error: err.Error()}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failures[strings.ToUpper(req.Symbol)]; ok {
		return OrderResult{Error: err.Error()}, err
	}
	s.orders[userID] = append(s.orders[userID], req)
	id := uuid.NewString()
	logger.Debugf("simulator: filled user=%s symbol=%s side=%s qty=%.6f trade=%s",
		userID, req.Symbol, req.Side, req.Quantity, id)
	return OrderResult{Success: true, TradeID: id}, nil
}

func (s *Simulator) StopAll(ctx context.Context, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.orders[userID])
	delete(s.orders, userID)
	logger.Infof("simulator: emergency stop user=%s reason=%q cleared=%d", userID, reason, n)
	return nil
}

func (s *Simulator) Snapshot(ctx context.Context, userID string) (PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

// Orders returns the journal for a user, oldest first.
func (s *Simulator) Orders(userID string) []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRequest, len(s.orders[userID]))
	copy(out, s.orders[userID])
	return out
}
