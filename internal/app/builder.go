package app

import (
	"fmt"

	"tiller/internal/agent"
	"tiller/internal/config"
	"tiller/internal/decision"
	"tiller/internal/executor"
	"tiller/internal/gateway/exchange"
	"tiller/internal/gateway/provider"
	"tiller/internal/intent"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/notify"
	"tiller/internal/rebalance"
	"tiller/internal/render"
	"tiller/internal/store"
	"tiller/internal/store/gormstore"
	"tiller/internal/store/memstore"
	apihttp "tiller/internal/transport/http"
)

// NewApp wires every component from the validated config.
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	var (
		kv    store.KV
		audit store.DecisionLog
	)
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := gormstore.NewGormStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.db = db
		kv = db
		audit = db
	case "memory":
		kv = memstore.New()
		logger.Warnf("app: memory store selected, decision audit log disabled")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	trades, stopper, portfolio, err := buildExchange(cfg.Exchange)
	if err != nil {
		return nil, err
	}

	var base intent.BaseClassifier
	if cfg.Provider.Classifier != "" {
		base = provider.NewHTTPClassifier(cfg.Provider.Classifier, cfg.Provider.APIKey, cfg.Provider.Timeout)
	}
	classifier := intent.NewClassifier(base)

	var recommender decision.Recommender
	router := decision.NewRouter()
	router.Register(decision.ServicePortfolio, &portfolioService{reader: portfolio})
	if cfg.Provider.BaseURL != "" {
		recommender = provider.NewHTTPRecommender(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
		for _, key := range []string{
			decision.ServiceMarket,
			decision.ServiceStrategy,
			decision.ServiceCredit,
			decision.ServiceRisk,
			decision.ServiceTradingStrategy,
		} {
			router.Register(key, provider.NewHTTPDomainService(cfg.Provider.BaseURL, key, cfg.Provider.APIKey, cfg.Provider.Timeout))
		}
	} else {
		logger.Warnf("app: no provider base_url, recommendations degrade to fallback")
	}

	modes := mode.NewRegistry(kv)
	guard := rebalance.NewGuard(kv, trades, portfolio, cfg.Rebalance.AllowedStrategies)
	exec := executor.NewExecutor(executor.NewRegistry(), trades, stopper, guard, modes, audit)
	builder := decision.NewBuilder(router, recommender, audit)
	notifier := buildNotifier(cfg.Notify)

	a.service = agent.NewService(agent.Params{
		Classifier: classifier,
		Modes:      modes,
		Builder:    builder,
		Executor:   exec,
		Renderer:   render.NewRenderer(),
		Notifier:   notifier,
		Autonomous: cfg.Autonomous,
	})

	if err := a.wireHotReload(classifier); err != nil {
		return nil, err
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:   cfg.Server.Addr,
		Mode:   cfg.Server.Mode,
		Router: apihttp.NewRouter(a.service, modes, audit),
	})
	if err != nil {
		return nil, err
	}
	a.server = server
	return a, nil
}

func buildExchange(cfg config.ExchangeConfig) (exchange.TradeExecutor, exchange.EmergencyStopper, exchange.PortfolioReader, error) {
	switch cfg.Driver {
	case "binance":
		ex := exchange.NewBinanceExecutor(cfg.APIKey, cfg.APISecret)
		ex.UseTestnet(cfg.Testnet)
		return ex, ex, ex, nil
	case "simulator":
		sim := exchange.NewSimulator()
		return sim, sim, sim, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown exchange driver %q", cfg.Driver)
	}
}

func buildNotifier(cfg config.NotifyConfig) *notify.Dispatcher {
	var transports []notify.Transport
	if cfg.Telegram.Enabled {
		transports = append(transports, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Slack.Enabled {
		transports = append(transports, notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel))
	}
	return notify.NewDispatcher(transports...)
}

// wireHotReload loads the reloadable files once and registers watchers so
// later edits apply without a restart.
func (a *App) wireHotReload(classifier *intent.Classifier) error {
	kwFile := a.cfg.Intent.KeywordsFile
	personaFile := a.cfg.Persona.File
	if kwFile == "" && personaFile == "" {
		return nil
	}
	watcher, err := config.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	a.watcher = watcher

	if kwFile != "" {
		reload := func(path string) {
			kw, err := config.LoadKeywords(path)
			if err != nil {
				logger.Errorf("app: keyword reload failed: %v", err)
				return
			}
			classifier.SetKeywordOverrides(kw)
		}
		reload(kwFile)
		if err := watcher.Watch(kwFile, reload); err != nil {
			return err
		}
	}
	if personaFile != "" {
		reload := func(path string) {
			p, err := config.LoadPersona(path)
			if err != nil {
				logger.Errorf("app: persona reload failed: %v", err)
				return
			}
			a.service.SetPersona(p)
		}
		reload(personaFile)
		if err := watcher.Watch(personaFile, reload); err != nil {
			return err
		}
	}
	return nil
}
