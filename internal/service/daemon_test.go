package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/local"
)

func TestRunDaemon(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T)
	}{
		{
			name: "passes repeat and reuse the output state",
			do: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				cfg := config.Config{
					SyncInterval: time.Millisecond,
					State:        config.State{InputPath: "in.json", OutputPath: "out.json"},
				}
				var inputs []string
				pass := func(_ context.Context, cfg config.Config) error {
					inputs = append(inputs, cfg.State.InputPath)
					if len(inputs) == 3 {
						cancel()
					}
					return nil
				}

				require.NoError(t, runDaemon(ctx, cfg, nil, nil, pass))
				require.Equal(t, []string{"in.json", "out.json", "out.json"}, inputs)
			},
		},
		{
			name: "failed pass does not stop the daemon",
			do: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				calls := 0
				pass := func(context.Context, config.Config) error {
					calls++
					if calls == 2 {
						cancel()
					}
					return errors.New("530 Login incorrect")
				}

				require.NoError(t, runDaemon(ctx, config.Config{SyncInterval: time.Millisecond}, nil, nil, pass))
				require.Equal(t, 2, calls)
			},
		},
		{
			name: "config change triggers an immediate pass with the new config",
			do: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				events := make(chan local.WatchEvent, 1)
				cfg := config.Config{
					Path:         "/old/*.csv",
					SyncInterval: time.Hour,
					State:        config.State{OutputPath: "state.json"},
				}
				reload := func() (config.Config, error) {
					return config.Config{Path: "/new/*.csv", SyncInterval: time.Hour, State: config.State{OutputPath: "state.json"}}, nil
				}
				var paths []string
				pass := func(_ context.Context, cfg config.Config) error {
					paths = append(paths, cfg.Path)
					switch len(paths) {
					case 1:
						events <- local.WatchEvent{Path: "config.toml"}
					case 2:
						require.Equal(t, "state.json", cfg.State.InputPath)
						cancel()
					}
					return nil
				}

				require.NoError(t, runDaemon(ctx, cfg, events, reload, pass))
				require.Equal(t, []string{"/old/*.csv", "/new/*.csv"}, paths)
			},
		},
		{
			name: "invalid reload keeps the previous config",
			do: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				events := make(chan local.WatchEvent, 1)
				reload := func() (config.Config, error) {
					return config.Config{}, errors.New("host must not be empty")
				}
				var paths []string
				pass := func(_ context.Context, cfg config.Config) error {
					paths = append(paths, cfg.Path)
					if len(paths) == 1 {
						events <- local.WatchEvent{Path: "config.toml"}
					} else {
						cancel()
					}
					return nil
				}

				cfg := config.Config{Path: "/old/*.csv", SyncInterval: time.Hour}
				require.NoError(t, runDaemon(ctx, cfg, events, reload, pass))
				require.Equal(t, []string{"/old/*.csv", "/old/*.csv"}, paths)
			},
		},
		{
			name: "closed event channel falls back to the interval",
			do: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				events := make(chan local.WatchEvent)
				close(events)
				calls := 0
				pass := func(context.Context, config.Config) error {
					calls++
					if calls == 2 {
						cancel()
					}
					return nil
				}

				require.NoError(t, runDaemon(ctx, config.Config{SyncInterval: 5 * time.Millisecond}, events, nil, pass))
				require.Equal(t, 2, calls)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.do)
	}
}
