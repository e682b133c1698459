package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/realmsync/internal/action"
	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/combat"
	"github.com/udisondev/realmsync/internal/config"
	"github.com/udisondev/realmsync/internal/db"
	"github.com/udisondev/realmsync/internal/gateway"
	"github.com/udisondev/realmsync/internal/logging"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/spawn"
	"github.com/udisondev/realmsync/internal/store"
)

const statsInterval = 30 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := config.PathFromEnv(config.ServerConfigEnv, config.ServerConfigPath)
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}

	logger, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid server config %s: %w", cfgPath, err)
	}
	kinds, err := cfg.Catalog()
	if err != nil {
		return err
	}

	logger.Info("realmsync server starting",
		"config", cfgPath,
		"address", cfg.Addr(),
		"log_level", cfg.Log.Level,
		"kinds", len(kinds),
		"database", cfg.Database.Enabled)

	filters, err := query.NewCache(cfg.QueryCacheSize)
	if err != nil {
		return err
	}
	defer filters.Close()

	st := store.New(store.Options{
		CellSize: cfg.CellSize,
		Filters:  filters,
		Logger:   logger.With("component", "store"),
		Debug:    cfg.Debug.Store,
	})

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	machine := ai.NewMachine()
	spawner := spawn.NewSpawner(kinds, rng, logger.With("component", "spawn"), cfg.Debug.Spawn)
	resolver := combat.NewResolver(machine, kinds, logger.With("component", "combat"))

	var routes spawn.RouteRepository = spawn.StaticRoutes(cfg.Routes)
	var serviceOpts []action.Option
	if cfg.Database.Enabled {
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database migrations applied")

		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		logger.Info("database connected")

		if err := seedRoutes(ctx, database.Routes(), cfg, logger); err != nil {
			return err
		}
		routes = database.Routes()
		serviceOpts = append(serviceOpts, action.WithPlayerRepository(database.Players()))
	}

	if _, err := spawner.LoadRoutes(ctx, st, routes); err != nil {
		return err
	}

	actions := action.NewService(st, machine, resolver, action.Config{
		SpawnPoint:  cfg.Player.SpawnPoint,
		PlayerMaxHP: cfg.Player.MaxHP,
		WorldBounds: cfg.Player.WorldBounds,
	}, append(serviceOpts, action.WithLogger(logger.With("component", "action")))...)

	gw := gateway.NewServer(st, actions, cfg.Gateway, logger.With("component", "gateway"))

	scheduler, err := ai.NewScheduler(st, gw, []ai.Loop{
		{Task: ai.NewPatroller(machine, kinds, logger.With("component", "ai"), cfg.Debug.AI), Interval: cfg.Ticks.Patrol},
		{Task: spawner, Interval: cfg.Ticks.Spawn},
		{Task: spawn.NewCleaner(cfg.Ticks.CleanupGrace, logger.With("component", "cleanup")), Interval: cfg.Ticks.Cleanup},
	}, ai.WithLogger(logger.With("component", "scheduler")), ai.WithDebug(cfg.Debug.AI))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gw.Run(gctx, cfg.Addr()); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := st.Stats()
				ticks, skipped, failed := scheduler.Stats()
				logger.Info("stats",
					"observers", gw.ObserverCount(),
					"rows", s.Rows,
					"subscriptions", s.Subs,
					"commits", s.Commits,
					"aborts", s.Aborts,
					"diffs", s.Diffs,
					"ticks", ticks,
					"ticks_skipped", skipped,
					"ticks_failed", failed)
			}
		}
	})

	return g.Wait()
}

// seedRoutes copies the configured routes into an empty routes table so a
// fresh database starts with the same world as the config file.
func seedRoutes(ctx context.Context, repo *db.RouteRepository, cfg config.Server, logger *slog.Logger) error {
	existing, err := repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, r := range cfg.Routes {
		if err := repo.Upsert(ctx, r); err != nil {
			return fmt.Errorf("seeding route %d: %w", r.ID, err)
		}
	}
	logger.Info("routes seeded", "count", len(cfg.Routes))
	return nil
}
