package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readers-ear/internal/config"
	"github.com/dgnsrekt/readers-ear/internal/engines"
	"github.com/dgnsrekt/readers-ear/internal/history"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

// app is one hydrated history session.
type app struct {
	cfg     config.Config
	stores  *store.Stores
	history *history.Manager
}

func openApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg, err := config.LoadFromViper(v)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if cfg.Storage.Dir == "" {
		if cfg.Storage.Dir, err = defaultDataDir(); err != nil {
			return nil, fmt.Errorf("locate data directory: %w", err)
		}
	}

	logger := log.Default()

	stores, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	engine, err := engines.New(cfg.Engine, cfg.Gemini)
	if err != nil {
		_ = stores.Close()
		return nil, err //nolint:wrapcheck
	}

	m := history.New(history.Options{
		Blobs:       stores.Blobs,
		Metadata:    stores.Metadata,
		Extractor:   engine,
		Synthesizer: engine,
		Logger:      logger,
		FlushDelay:  cfg.FlushDelay,
	})
	if err := m.Hydrate(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}

	logger.Debug("History loaded", "items", len(m.Items()), "dir", cfg.Storage.Dir, "engine", cfg.Engine)
	return &app{cfg: cfg, stores: stores, history: m}, nil
}

// Close writes pending changes and closes the stores.
func (a *app) Close() error {
	err := a.history.Close(context.Background())
	if cerr := a.stores.Close(); err == nil {
		err = cerr
	}
	return err //nolint:wrapcheck
}

// withApp runs fn against a freshly hydrated history and closes it
// afterwards.
func withApp(cmd *cobra.Command, fn func(*app) error) (err error) {
	a, err := openApp(cmd.Context(), viper.GetViper())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// selectArg makes the item named by the optional first argument active and
// returns it.
func (a *app) selectArg(args []string) (history.Item, error) {
	sel := ""
	if len(args) > 0 {
		sel = args[0]
	}
	it, err := resolveItem(a.history.Items(), sel)
	if err != nil {
		return history.Item{}, err
	}
	if err := a.history.Select(it.ID); err != nil {
		return history.Item{}, err //nolint:wrapcheck
	}
	return it, nil
}
