package config

import "time"

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "tiller.db"
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Exchange.Driver == "" {
		c.Exchange.Driver = "simulator"
	}
	if len(c.Rebalance.AllowedStrategies) == 0 {
		c.Rebalance.AllowedStrategies = []string{
			"threshold", "periodic", "drift", "equal_weight", "risk_parity",
		}
	}
	if c.Autonomous.Interval <= 0 {
		c.Autonomous.Interval = 15 * time.Minute
	}
	if c.Autonomous.Offset < 0 {
		c.Autonomous.Offset = 0
	}
	if c.Autonomous.BreakerThreshold <= 0 {
		c.Autonomous.BreakerThreshold = 3
	}
	if c.Autonomous.BreakerCooldown <= 0 {
		c.Autonomous.BreakerCooldown = 10 * time.Minute
	}
}
