package service

import (
	"context"
	"fmt"
	"time"

	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/local"
	"github.com/torfstack/ftpsync/internal/logging"
)

// RunDaemon syncs every sync interval until ctx is done. Changes of the
// config file are picked up and trigger an immediate pass.
func RunDaemon(ctx context.Context, cfg config.Config) error {
	w, err := local.NewWatcher(config.Path())
	if err != nil {
		return fmt.Errorf("run-daemon: could not create watcher: %w", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := w.Run(ctx); err != nil {
			logging.Error("run-daemon: error while running watcher", err)
		}
	}()

	return runDaemon(ctx, cfg, w.Events, reloadConfig, syncPass)
}

type passFunc func(ctx context.Context, cfg config.Config) error

func runDaemon(
	ctx context.Context,
	cfg config.Config,
	events <-chan local.WatchEvent,
	reload func() (config.Config, error),
	pass passFunc,
) error {
	for {
		// Passes run one after another, a slow pass delays the next tick.
		if err := pass(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Errorf("Sync pass failed: %s", failure.Describe(err))
		}
		if cfg.State.OutputPath != "" {
			cfg.State.InputPath = cfg.State.OutputPath
		}

		logging.Debugf("Next sync pass in %s", cfg.SyncInterval)
		timer := time.NewTimer(cfg.SyncInterval)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
				break wait
			case event, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				timer.Stop()
				logging.Infof("Config file '%s' changed, reloading", event.Path)
				next, err := reload()
				if err != nil {
					logging.Errorf("Keeping previous config: %s", failure.Describe(err))
					break wait
				}
				next.State.InputPath = cfg.State.InputPath
				cfg = next
				break wait
			}
		}
	}
}

func reloadConfig() (config.Config, error) {
	cfg, err := config.Get()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func syncPass(ctx context.Context, cfg config.Config) error {
	s, err := NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Debugf("Could not close service: %s", err)
		}
	}()

	n, err := s.Sync(ctx)
	if err != nil {
		return err
	}
	logging.Infof("Sync pass finished, %d file(s) downloaded", n)
	return nil
}
