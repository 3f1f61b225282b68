package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/config"
	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/registry"
)

// app is the wired set of components behind serve, ledger and demo.
type app struct {
	cfg      *config.Config
	store    ledger.Store
	ledger   *ledger.Ledger
	registry *registry.Registry
	gate     *compliance.Gate
	log      *slog.Logger
}

func openStore(ctx context.Context, lc config.LedgerConfig) (ledger.Store, error) {
	switch lc.Type {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "sqlite":
		return ledger.NewSQLite(lc.DBPath)
	case "postgres":
		return ledger.NewPostgres(ctx, lc.DSN)
	case "redis":
		return ledger.NewRedis(ctx, lc.RedisAddr, lc.RedisPassword, lc.RedisDB)
	default:
		return nil, fmt.Errorf("unknown ledger type %q", lc.Type)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Ledger.Type, err)
	}

	timeout, err := cfg.Ledger.ParseTimeout()
	if err != nil {
		store.Close()
		return nil, err
	}
	opts := []ledger.Option{ledger.WithLogger(log), ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts)}
	if timeout > 0 {
		opts = append(opts, ledger.WithTimeout(timeout))
	}

	l := ledger.New(store, opts...)
	reg := registry.New(l, log)
	return &app{
		cfg:      cfg,
		store:    store,
		ledger:   l,
		registry: reg,
		gate:     compliance.NewGate(reg, l, log),
		log:      log,
	}, nil
}

// activateBlocks registers and activates every block in the config. An
// existing ledger entry is kept, so restarts do not reset spend.
func (a *app) activateBlocks(ctx context.Context) error {
	for _, b := range a.cfg.Blocks {
		m, err := b.LoadManifest(a.cfg.Dir())
		if err != nil {
			return err
		}
		settings, err := b.Policy.Settings()
		if err != nil {
			return fmt.Errorf("block %s: %w", b.InstanceID, err)
		}
		if _, err := a.registry.Activate(ctx, b.InstanceID, m, settings); err != nil {
			return fmt.Errorf("block %s: %w", b.InstanceID, err)
		}
	}
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
