// Package mode holds the per-user autonomy setting and trading preferences.
package mode

import "strings"

// OperationMode is the per-user autonomy setting.
type OperationMode string

const (
	Manual     OperationMode = "manual"
	Assisted   OperationMode = "assisted"
	Autonomous OperationMode = "autonomous"
	Emergency  OperationMode = "emergency"
)

func (m OperationMode) Valid() bool {
	switch m {
	case Manual, Assisted, Autonomous, Emergency:
		return true
	}
	return false
}

// CanTransition enforces the mode state machine: manual/assisted flip to and
// from autonomous explicitly, anything may enter emergency, and emergency
// resumes only to assisted.
func CanTransition(from, to OperationMode) bool {
	if to == Emergency {
		return true
	}
	switch from {
	case Emergency:
		return to == Assisted
	case Manual, Assisted:
		return to == Manual || to == Assisted || to == Autonomous
	case Autonomous:
		return to == Manual || to == Assisted
	}
	return false
}

// TradingMode is the coarse risk posture derived from free-text tolerance.
type TradingMode string

const (
	Conservative TradingMode = "conservative"
	Balanced     TradingMode = "balanced"
	Aggressive   TradingMode = "aggressive"
	Maximum      TradingMode = "maximum"
)

// DeriveTradingMode buckets a free-text risk tolerance.
func DeriveTradingMode(tolerance string) TradingMode {
	t := strings.ToLower(strings.TrimSpace(tolerance))
	switch {
	case containsAny(t, "max", "maximum", "degen", "yolo"):
		return Maximum
	case containsAny(t, "aggressive", "high", "bold"):
		return Aggressive
	case containsAny(t, "conservative", "low", "cautious", "safe"):
		return Conservative
	default:
		return Balanced
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Preferences are user-tunable knobs merged on update.
type Preferences struct {
	RiskTolerance      string  `json:"risk_tolerance,omitempty"`
	MaxPositionSizeUSD float64 `json:"max_position_size_usd,omitempty"`
	MaxRiskPerTradePct float64 `json:"max_risk_per_trade_pct,omitempty"`
	SimulationOnly     *bool   `json:"simulation_only,omitempty"`
}

// UserConfig is the authoritative per-user record.
type UserConfig struct {
	UserID      string        `json:"user_id"`
	Mode        OperationMode `json:"mode"`
	TradingMode TradingMode   `json:"trading_mode"`
	Active      bool          `json:"active"`
	Preferences Preferences   `json:"preferences"`
}

// Defaults returns the hard fallback used when neither store nor cache has
// a record: assisted mode with fixed risk limits.
func Defaults(userID string) UserConfig {
	return UserConfig{
		UserID:      userID,
		Mode:        Assisted,
		TradingMode: Balanced,
		Preferences: Preferences{
			MaxPositionSizeUSD: 10_000,
			MaxRiskPerTradePct: 2.0,
		},
	}
}
