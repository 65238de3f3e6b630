// Package app assembles the engine from configuration and owns its runtime
// lifecycle.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tiller/internal/agent"
	"tiller/internal/config"
	"tiller/internal/logger"
	"tiller/internal/store/gormstore"
	apihttp "tiller/internal/transport/http"
)

// App is the fully wired engine.
type App struct {
	cfg     *config.Config
	service *agent.Service
	server  *apihttp.Server
	watcher *config.Watcher
	db      *gormstore.GormStore
}

// Run serves until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				logger.Warnf("app: closing store failed: %v", err)
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Infof("app: serving on %s", a.server.Addr())
		return a.server.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app run: %w", err)
	}
	return nil
}

// Service exposes the agent service, used by alternate front ends.
func (a *App) Service() *agent.Service { return a.service }
