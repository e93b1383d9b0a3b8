// Package app wires the cache, secure store, backend client and services
// shared by the CLI and the companion API.
package app

import (
	"fmt"

	"tilsynsapp/internal/config"
	"tilsynsapp/internal/database"
	"tilsynsapp/internal/logger"
	"tilsynsapp/internal/metrics"
	"tilsynsapp/internal/remote"
	"tilsynsapp/internal/securestore"
	"tilsynsapp/internal/services"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type App struct {
	Cfg     *config.Config
	Logr    *logger.Logger
	DB      *bun.DB
	Store   *securestore.Store
	Remote  *remote.Client
	Metrics *metrics.Metrics

	Auth          *services.AuthService
	Rows          *services.VejmanService
	RegelRytteren *services.RegelRytterenService
	Version       *services.VersionService
}

// New opens local storage and builds the services. The login is restored
// from the secure store.
func New(cfg *config.Config, logr *logger.Logger) (*App, error) {
	m, err := metrics.New()
	if err != nil {
		return nil, err
	}

	store, err := securestore.Open(cfg.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("open secure store: %w", err)
	}

	db, err := database.New(cfg.DatabasePath, cfg)
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(cfg, store, logr.Logger, m)
	cache := services.NewVejmanCache(db)

	a := &App{
		Cfg:           cfg,
		Logr:          logr,
		DB:            db,
		Store:         store,
		Remote:        client,
		Metrics:       m,
		Auth:          services.NewAuthService(client, store, cfg.LoginMaxAge, logr),
		Rows:          services.NewVejmanService(client, cache, store, cfg.RefreshInterval, logr.Logger, m),
		RegelRytteren: services.NewRegelRytterenService(client, cfg.RegelRytterenLockout, logr.Logger),
		Version:       services.NewVersionService(client, cfg.VersionCode, logr.Logger),
	}

	st := a.Auth.Restore()
	logr.Debug("login restored", zap.String("step", string(st.Step)))
	return a, nil
}

func (a *App) Close() {
	if err := a.DB.Close(); err != nil {
		a.Logr.Warn("failed to close cache", zap.Error(err))
	}
	a.Logr.Sync()
}
