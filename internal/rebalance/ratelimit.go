package rebalance

import (
	"context"
	"time"

	"tiller/internal/decision"
	"tiller/internal/logger"
	"tiller/internal/store"
)

const (
	rateKeyPrefix = "rebalance:rate:"
	rateWindow    = time.Hour
	rateLimit     = 5
)

// checkRateLimit bounds rebalancing attempts per user per rolling hour.
// Best-effort: a broken store fails open rather than blocking trading.
func checkRateLimit(ctx context.Context, kv store.KV, userID string) error {
	count, err := kv.Incr(ctx, rateKeyPrefix+userID, rateWindow)
	if err != nil {
		logger.Warnf("rebalance: rate-limit store failed user=%s, failing open: %v", userID, err)
		return nil
	}
	if count <= rateLimit {
		return nil
	}
	retryAfter, err := kv.TTL(ctx, rateKeyPrefix+userID)
	if err != nil || retryAfter <= 0 {
		retryAfter = rateWindow
	}
	return &decision.ConflictError{
		Reason:     "rebalancing attempt limit reached",
		RetryAfter: retryAfter,
	}
}
