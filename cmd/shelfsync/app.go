package main

import (
	"fmt"
	"log/slog"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/gateway"
	"github.com/shelfsync/shelfsync/internal/logging"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/shelfsync/shelfsync/internal/server"
	"github.com/shelfsync/shelfsync/internal/state"
	"github.com/shelfsync/shelfsync/internal/syncer"
)

// app is the wired engine shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	state  *state.State

	queue    *syncer.Queue
	registry *syncer.Registry
	shares   *syncer.Shares
	hub      *server.Hub
}

// stateToken prefers a credential saved with login and falls back to the
// configured one.
type stateToken struct {
	state    *state.State
	fallback string
}

func (t stateToken) Token() string {
	if tok := t.state.Token(); tok != "" {
		return tok
	}

	return t.fallback
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	return newApp(cfg, logging.NewLogger(cfg.Environment, cfg.LogFile))
}

func openState(cfg *config.Config) (*state.State, error) {
	if cfg.StatePath == "" {
		return state.Load()
	}

	return state.LoadAt(cfg.StatePath)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openState(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	var tokens gateway.TokenSource = gateway.StaticToken("")
	if cfg.RemoteEnabled() {
		tokens = stateToken{state: st, fallback: cfg.RemoteToken}
	}

	client := gateway.NewClient(cfg.RemoteBaseURL, cfg.RemoteFolder, tokens, nil)

	a := &app{
		cfg:    cfg,
		logger: logger,
		state:  st,
		queue:  syncer.NewQueue(cfg.SyncDebounce),
		hub:    server.NewHub(logger),
	}

	a.registry = syncer.NewRegistry(a.queue, logger)
	a.shares = syncer.NewShares(client, st, cfg.ShareRefreshInterval, logger)

	for _, d := range models.Domains() {
		a.registry.Register(syncer.New(client, st, syncer.Options{
			Domain:         d,
			Document:       cfg.Document(d),
			BackupDocument: cfg.BackupDocument(d),
			BackupLimit:    cfg.BackupLimit,
			OnMutate:       a.registry.Enqueue,
			OnEvent:        a.publish,
		}, logger))
	}

	return a, nil
}

func (a *app) publish(ev syncer.Event) {
	a.logger.Info("sync event",
		slog.String("domain", string(ev.Domain)),
		slog.String("action", string(ev.Action)),
		slog.Int("items", ev.Items),
	)

	a.hub.Broadcast(ev)
}

// syncers returns the syncers selected by --domain.
func (a *app) syncers(domain string) ([]*syncer.Syncer, error) {
	if domain == "" {
		return a.registry.All(), nil
	}

	d, err := models.ParseDomain(domain)
	if err != nil {
		return nil, err
	}

	s, err := a.registry.Get(d)
	if err != nil {
		return nil, err
	}

	return []*syncer.Syncer{s}, nil
}

func (a *app) Close() {
	a.shares.Close()

	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}
