// Package config loads the YAML configuration tree, validates it, and hot
// reloads the pieces that are safe to change at runtime.
package config

import "time"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Provider   ProviderConfig   `yaml:"provider"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Rebalance  RebalanceConfig  `yaml:"rebalance"`
	Notify     NotifyConfig     `yaml:"notify"`
	Autonomous AutonomousConfig `yaml:"autonomous"`
	Intent     IntentConfig     `yaml:"intent"`
	Persona    PersonaConfig    `yaml:"persona"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Mode selects the gin runtime mode: debug or release.
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type StoreConfig struct {
	// Driver is sqlite or memory.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// Classifier is the optional legacy classification endpoint; empty
	// disables it and keyword scoring carries classification alone.
	Classifier string `yaml:"classifier"`
}

type ExchangeConfig struct {
	// Driver is binance or simulator.
	Driver    string `yaml:"driver"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

type RebalanceConfig struct {
	AllowedStrategies []string `yaml:"allowed_strategies"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

type AutonomousConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Offset         time.Duration `yaml:"offset"`
	RunImmediately bool          `yaml:"run_immediately"`
	// Circuit breaker guarding per-user autonomous cycles.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type IntentConfig struct {
	// KeywordsFile points at a YAML map of intent -> keyword list merged
	// over the built-in table; hot reloaded on change.
	KeywordsFile string `yaml:"keywords_file"`
}

type PersonaConfig struct {
	// File points at the persona YAML; hot reloaded on change.
	File string `yaml:"file"`
}
