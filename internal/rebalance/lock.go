package rebalance

import (
	"context"
	"errors"
	"time"

	"tiller/internal/decision"
	"tiller/internal/logger"
	"tiller/internal/store"

	"github.com/google/uuid"
)

const (
	lockKeyPrefix = "rebalance:lock:"
	// Safety lifetime: a crashed holder can block a user at most this long.
	lockTTL = 30 * time.Minute
)

// lockHandle is the per-user mutual-exclusion token. Release is idempotent
// so the deferred release plus any early release cannot double-free.
type lockHandle struct {
	kv       store.KV
	key      string
	token    string
	bypassed bool
	released bool
}

// acquireLock takes the per-user rebalancing lock. Lock held -> conflict
// with retry-after, never queued. Store unable to prove acquisition ->
// proceed without lock, loudly: an explicit logged trade-off, not a silent
// success (see DESIGN.md).
func acquireLock(ctx context.Context, kv store.KV, userID string) (*lockHandle, error) {
	h := &lockHandle{kv: kv, key: lockKeyPrefix + userID, token: uuid.NewString()}
	ok, err := kv.SetNX(ctx, h.key, h.token, lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			logger.Errorf("rebalance: lock store unavailable user=%s, proceeding WITHOUT lock: %v", userID, err)
			h.bypassed = true
			return h, nil
		}
		return nil, err
	}
	if !ok {
		retryAfter, _ := kv.TTL(ctx, h.key)
		if retryAfter <= 0 {
			retryAfter = lockTTL
		}
		return nil, &decision.ConflictError{
			Reason:     "a rebalancing run is already in progress for this account",
			RetryAfter: retryAfter,
		}
	}
	return h, nil
}

// release frees the lock exactly once. Called on every exit path.
func (h *lockHandle) release(ctx context.Context) {
	if h == nil || h.released || h.bypassed {
		if h != nil {
			h.released = true
		}
		return
	}
	h.released = true
	// Only delete our own token: an expired lock may have been re-acquired.
	val, ok, err := h.kv.Get(ctx, h.key)
	if err != nil {
		logger.Warnf("rebalance: lock release read failed key=%s err=%v", h.key, err)
		return
	}
	if !ok || val != h.token {
		return
	}
	if err := h.kv.Delete(ctx, h.key); err != nil {
		logger.Warnf("rebalance: lock release failed key=%s err=%v (safety TTL will expire it)", h.key, err)
	}
}
