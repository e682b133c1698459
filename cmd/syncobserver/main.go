package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/realmsync/internal/client"
	"github.com/udisondev/realmsync/internal/config"
	"github.com/udisondev/realmsync/internal/gateway"
	"github.com/udisondev/realmsync/internal/logging"
	"github.com/udisondev/realmsync/internal/mirror"
	"github.com/udisondev/realmsync/internal/model"
)

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
	cfgPath := config.PathFromEnv(config.ObserverConfigEnv, config.ObserverConfigPath)
	cfg, err := config.LoadObserver(cfgPath)
	if err != nil {
		return fmt.Errorf("loading observer config: %w", err)
	}

	logger, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid observer config %s: %w", cfgPath, err)
	}

	remote, err := gateway.Dial(ctx, cfg.ServerURL, gateway.DialOptions{
		Token:   cfg.Token,
		Name:    cfg.Name,
		Timeout: cfg.DialTimeout,
		Logger:  logger.With("component", "remote"),
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.ServerURL, err)
	}
	defer remote.Close()
	id := remote.Identity()
	logger.Info("connected", "server", cfg.ServerURL, "identity", id.Short())

	anim := mirror.NewTimedAnimator(cfg.ClipDurations(), cfg.ClipFallback, time.Now)
	cctx, err := client.NewContext(client.Options{
		Logger:    logger.With("component", "client"),
		Debug:     cfg.Debug,
		Animator:  anim,
		HitFlash:  cfg.HitFlash,
		Fade:      cfg.Fade,
		Reconcile: cfg.Reconcile,
	})
	if err != nil {
		return err
	}
	if cfg.Debug.Diffs {
		cctx.Systems.Animation().OnRenderChange(func(key model.RowKey, from, to model.EntityState) {
			cctx.Logger.Debug("render state", "row", key, "from", from, "to", to)
		})
	}

	session := client.NewSession(cctx, remote, cfg.Window)
	defer session.Close()

	avatar := client.NewAvatar(id, remote)
	if err := avatar.Follow(remote); err != nil {
		return err
	}
	defer avatar.Close()
	if _, err := session.AddObserver(id, avatar); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return frameLoop(gctx, session, cfg, logger)
	})

	if cfg.Wander.Span > 0 {
		g.Go(func() error {
			return wander(gctx, avatar, remote, cfg.Wander, logger)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-remote.Done():
			if err := remote.Err(); err != nil && !errors.Is(err, gateway.ErrDisconnected) {
				return fmt.Errorf("connection lost: %w", err)
			}
			return gateway.ErrDisconnected
		}
	})

	return g.Wait()
}

// frameLoop drives the client frames at a fixed rate and logs a summary
// every StatsInterval.
func frameLoop(ctx context.Context, session *client.Session, cfg config.Observer, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.FrameInterval)
	defer ticker.Stop()

	var (
		total     client.FrameStats
		frames    int
		lastStats = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			st := session.Frame(now)
			frames++
			total.Refreshed += st.Refreshed
			total.Applied += st.Applied
			total.Removed += st.Removed
			total.Records = st.Records

			if cfg.StatsInterval > 0 && now.Sub(lastStats) >= cfg.StatsInterval {
				logger.Info("frames",
					"frames", frames,
					"refreshed", total.Refreshed,
					"applied", total.Applied,
					"removed", total.Removed,
					"records", total.Records)
				total, frames, lastStats = client.FrameStats{}, 0, now
			}
		}
	}
}

// wander walks the avatar back and forth along x around the point where it
// first appeared, respawning it after death.
func wander(ctx context.Context, avatar *client.Avatar, remote *gateway.Remote, w config.Wander, logger *slog.Logger) error {
	every := w.Every
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var (
		origin model.Vec2
		placed bool
		dir    = 1.0
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pos, ok := avatar.Position()
		if !ok {
			continue
		}
		if !placed {
			origin, placed = pos, true
		}

		if avatar.State() == model.StateDead {
			if err := remote.Respawn(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("respawn failed", "error", err)
			}
			placed = false
			continue
		}

		next := pos.Add(model.Vec2{X: dir * w.Step})
		if next.X > origin.X+w.Span/2 || next.X < origin.X-w.Span/2 {
			dir = -dir
			next = pos.Add(model.Vec2{X: dir * w.Step})
		}
		if err := avatar.MoveTo(ctx, next); err != nil && ctx.Err() == nil {
			logger.Debug("move rejected", "error", err)
		}
	}
}
