package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks store failures that callers may treat as soft
// (rate limiting, notifications) or must surface explicitly (locking).
var ErrUnavailable = errors.New("store unavailable")

// KV is the shared key-value store backing mode configs, rate-limit
// counters, the rebalancing lock and plan staging. Implementations must
// honor per-key expiry and provide atomic set-if-absent.
type KV interface {
	// Get returns the value and whether the key exists (expired keys do not).
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when the key is absent. Returns true when stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Incr atomically increments a counter, creating it with ttl on first use.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// TTL reports the remaining lifetime of key; zero when absent or persistent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// DecisionRecord is the persisted form of a decision and its outcome,
// kept for audit and post-mortem inspection.
type DecisionRecord struct {
	ID               string
	UserID           string
	Channel          string
	Intent           string
	DecisionType     string
	OperationMode    string
	Confidence       float64
	RiskLevel        string
	RequiresApproval bool
	AutoExecute      bool
	Status           string
	FailureReason    string
	Payload          []byte
	CreatedAt        time.Time
	ExecutedAt       *time.Time
}

// DecisionLog persists decision lifecycles.
type DecisionLog interface {
	Save(ctx context.Context, rec *DecisionRecord) error
	UpdateStatus(ctx context.Context, id, status, failureReason string) error
	FindByID(ctx context.Context, id string) (*DecisionRecord, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]DecisionRecord, error)
}
