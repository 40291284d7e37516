package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/shelfsync/shelfsync/internal/server"
	"github.com/shelfsync/shelfsync/internal/syncer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and the local UI API",
		Long: `Run the sync engine in the foreground. Every domain is synced once at
startup, local edits made through the API are synced after a short
debounce, and joined users' shares are refreshed periodically. Sync
events stream to UI clients over /api/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.shares.Start(ctx); err != nil {
		return err
	}

	if a.cfg.SharesFile != "" {
		listed, err := config.LoadShares(a.cfg.SharesFile)
		if err != nil {
			return err
		}

		a.seedShares(ctx, listed)
	}

	if !a.cfg.RemoteEnabled() {
		a.logger.Warn("REMOTE_BASE_URL not set, running local-only")
	}

	for _, s := range a.registry.All() {
		if _, err := s.Sync(ctx, syncer.TriggerStartup); err != nil {
			a.logger.Warn("startup sync failed",
				slog.String("domain", string(s.Domain())),
				slog.String("error", err.Error()),
			)
		}
	}

	srv := &http.Server{
		Addr: a.cfg.ListenAddr,
		Handler: server.NewRouter(server.Config{
			Registry: a.registry,
			Shares:   a.shares,
			Hub:      a.hub,
			Logger:   a.logger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.queue.Run(gctx, a.registry.HandleIntent)
		return nil
	})

	if a.cfg.SharesFile != "" {
		g.Go(func() error {
			err := config.WatchShares(gctx, a.cfg.SharesFile, a.logger, func(listed []models.Share) {
				a.seedShares(gctx, listed)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		a.logger.Info("listening", slog.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// seedShares tracks the listed shares that are not tracked yet. Shares
// removed from the list stay tracked until removed through the API.
func (a *app) seedShares(ctx context.Context, listed []models.Share) {
	for _, sh := range listed {
		if _, ok := a.shares.Get(sh.ID); ok {
			continue
		}

		added, err := a.shares.Add(ctx, sh)
		if err != nil {
			a.logger.Warn("seeding share", slog.String("share", sh.ID), slog.String("error", err.Error()))
			continue
		}

		a.logger.Info("share seeded",
			slog.String("share", added.ID),
			slog.String("status", string(added.Status)),
		)
	}
}
