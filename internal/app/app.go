// Package app assembles the runtime from a Config: the backing store, the
// gateway decorators, telemetry, the view registry, the background
// scheduler and the dispatch surface. The desktop server, the CLI and the
// mobile bridge all start from here.
package app

import (
	"context"
	stderrors "errors"

	"github.com/kimhsiao/churchhouse/backend/internal/collection"
	"github.com/kimhsiao/churchhouse/backend/internal/config"
	"github.com/kimhsiao/churchhouse/backend/internal/db"
	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway/redisgw"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/reconcile"
	"github.com/kimhsiao/churchhouse/backend/internal/scheduler"
	"github.com/kimhsiao/churchhouse/backend/internal/telemetry"
)

// Importer writes records verbatim. Every backing store implements it.
type Importer interface {
	Import(ctx context.Context, rec gateway.Record) (gateway.Record, error)
}

// Store is a backing store: a gateway that can also import records.
type Store interface {
	gateway.Gateway
	Importer
}

// App is an assembled runtime.
type App struct {
	Config    *config.Config
	Store     Store
	Gateway   gateway.Gateway
	Registry  *collection.Registry
	Scheduler *scheduler.Scheduler
	Surface   *dispatch.Surface
	Telemetry *telemetry.Provider

	closers []func() error
}

// New builds the runtime described by cfg. The scheduler is created but not
// started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	provider, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Telemetry = provider

	var gw gateway.Gateway = gateway.NewLimited(store, cfg.Gateway.RateLimit.RPS, cfg.Gateway.RateLimit.Burst)
	instrumented, err := gateway.NewInstrumented(gw, provider.Tracer(), provider.Meter())
	if err != nil {
		a.Close(ctx)
		return nil, errors.Wrap(errors.ErrInternal, "instrument gateway", err)
	}
	a.Gateway = instrumented

	a.Registry = collection.NewRegistry(collection.Config{
		Gateway:    a.Gateway,
		PageSize:   cfg.Collections.PageSize,
		Timeout:    cfg.Gateway.Timeout,
		Strategy:   reconcile.Strategy(cfg.Collections.Strategy),
		MaxPending: cfg.Collections.MaxPending,
	})
	a.Scheduler = scheduler.NewScheduler(a.Registry, &scheduler.SchedulerConfig{
		RefreshInterval: cfg.Scheduler.RefreshInterval,
		RefreshTimeout:  cfg.Scheduler.RefreshTimeout,
	})
	a.Surface = dispatch.NewSurface(a.Registry)

	logging.Info("Runtime assembled", map[string]interface{}{
		"driver":    cfg.Gateway.Driver,
		"strategy":  cfg.Collections.Strategy,
		"telemetry": provider.Enabled(),
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	cfg := a.Config.Gateway
	switch cfg.Driver {
	case config.DriverSQLite:
		database, err := db.Open(cfg.SQLite.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "open sqlite store", err)
		}
		store := db.NewStore(database.DB)
		a.closers = append(a.closers, store.Close, database.Close)
		return store, nil

	case config.DriverRedis:
		store := redisgw.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, errors.Remote("ping redis", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil

	case config.DriverMemory:
		return gateway.NewMemory(), nil
	}
	return nil, errors.Newf(errors.ErrInvalid, "unknown gateway.driver %q", cfg.Driver)
}

// Close stops the scheduler, releases every view and closes the store.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Registry != nil {
		a.Registry.ReleaseAll()
	}

	var errs []error
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
