package config

import "fmt"

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory, got %q", cfg.Store.Driver)
	}
	switch cfg.Exchange.Driver {
	case "binance", "simulator":
	default:
		return fmt.Errorf("exchange.driver must be binance or simulator, got %q", cfg.Exchange.Driver)
	}
	if cfg.Exchange.Driver == "binance" && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required for the binance driver")
	}
	switch cfg.Server.Mode {
	case "debug", "release":
	default:
		return fmt.Errorf("server.mode must be debug or release, got %q", cfg.Server.Mode)
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.Token == "" {
		return fmt.Errorf("notify.slack.token is required when slack is enabled")
	}
	return nil
}
