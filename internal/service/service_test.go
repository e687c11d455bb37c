package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/db"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/remote/remotetest"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Host:           "fake.example.com",
		Port:           21,
		Username:       "user",
		Password:       "secret",
		ConnectionType: config.FTP,
		Path:           "/dir/*.csv",
		OutputDir:      filepath.Join(dir, "out", "files"),
		OnlyNewFiles:   true,
		Timeout:        time.Second,
		Action:         config.ActionRun,
		SyncInterval:   time.Hour,
		Retry:          config.Retry{MaxAttempts: 2, BackoffBase: time.Millisecond},
		State: config.State{
			InputPath:  filepath.Join(dir, "in", "state.json"),
			OutputPath: filepath.Join(dir, "out", "state.json"),
		},
	}
}

func readState(t *testing.T, path string) map[string]any {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

func TestSync(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, config.Config, *remotetest.FS)
	}{
		{
			name: "downloads files and writes state with sibling keys",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				require.NoError(t, os.MkdirAll(filepath.Dir(cfg.State.InputPath), 0755))
				require.NoError(
					t, os.WriteFile(
						cfg.State.InputPath,
						[]byte(`{"other":{"x":1},"ex-ftp-state":{"newest-timestamp":1000,"last-timestamp-files":["/dir/a.csv"]}}`),
						0644,
					),
				)
				fs.Add("/dir/a.csv", "a", 1000).Add("/dir/b.csv", "b", 1000).Add("/dir/c.csv", "c", 1005)

				s := newService(cfg, fs, afero.NewOsFs(), nil)
				n, err := s.Sync(t.Context())
				require.NoError(t, err)
				require.Equal(t, 2, n)

				_, err = os.Stat(filepath.Join(cfg.OutputDir, "dir-c.csv"))
				require.NoError(t, err)
				_, err = os.Stat(filepath.Join(cfg.OutputDir, "dir-a.csv"))
				require.ErrorIs(t, err, os.ErrNotExist)

				doc := readState(t, cfg.State.OutputPath)
				require.Equal(t, map[string]any{"x": float64(1)}, doc["other"])
				require.Equal(
					t, map[string]any{
						"newest-timestamp":     float64(1005),
						"last-timestamp-files": []any{"/dir/c.csv"},
					}, doc["ex-ftp-state"],
				)
			},
		},
		{
			name: "missing input state starts from scratch",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				fs.Add("/dir/a.csv", "a", 1)
				n, err := newService(cfg, fs, afero.NewOsFs(), nil).Sync(t.Context())
				require.NoError(t, err)
				require.Equal(t, 1, n)
			},
		},
		{
			name: "malformed input state is a user error",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				require.NoError(t, os.MkdirAll(filepath.Dir(cfg.State.InputPath), 0755))
				require.NoError(t, os.WriteFile(cfg.State.InputPath, []byte(`{`), 0644))

				_, err := newService(cfg, fs, afero.NewOsFs(), nil).Sync(t.Context())
				require.Error(t, err)
				require.Equal(t, 1, failure.ExitCode(err))
				require.Zero(t, fs.Calls(remotetest.OpConnect))
			},
		},
		{
			name: "state in use by another process",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				require.NoError(t, os.MkdirAll(filepath.Dir(cfg.State.OutputPath), 0755))
				held := flock.New(cfg.State.OutputPath + ".lock")
				locked, err := held.TryLock()
				require.NoError(t, err)
				require.True(t, locked)
				defer held.Unlock()

				_, err = newService(cfg, fs, afero.NewOsFs(), nil).Sync(t.Context())
				require.ErrorContains(t, err, "another ftpsync process")
				require.Zero(t, fs.Calls(remotetest.OpConnect))
			},
		},
		{
			name: "transfers are journaled",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				journal, err := db.New(t.Context(), filepath.Join(t.TempDir(), "journal.sqlite"))
				require.NoError(t, err)
				fs.Add("/dir/a.csv", "aaa", 1).Add("/dir/b.csv", "b", 2)

				s := newService(cfg, fs, afero.NewOsFs(), journal)
				defer s.Close()
				_, err = s.Sync(t.Context())
				require.NoError(t, err)

				items, err := s.History(t.Context(), 10)
				require.NoError(t, err)
				require.Len(t, items, 2)
				require.Equal(t, items[0].RunID, items[1].RunID)
				require.ElementsMatch(t, []string{"/dir/a.csv", "/dir/b.csv"}, []string{items[0].SourcePath, items[1].SourcePath})
			},
		},
		{
			name: "history without journal",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				_, err := newService(cfg, fs, afero.NewOsFs(), nil).History(t.Context(), 10)
				require.Error(t, err)
				require.Equal(t, failure.CodeInvalidConfig, failure.CodeOf(err))
			},
		},
		{
			name: "test connection action does not download",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				cfg.Action = config.ActionTestConnection
				fs.Add("/dir/a.csv", "a", 1)

				require.NoError(t, newService(cfg, fs, afero.NewOsFs(), nil).Run(t.Context()))
				require.Equal(t, 1, fs.Calls(remotetest.OpConnect))
				require.Zero(t, fs.Calls(remotetest.OpList))
				require.Empty(t, fs.Opened())
			},
		},
		{
			name: "failed connection exits with user error",
			do: func(t *testing.T, cfg config.Config, fs *remotetest.FS) {
				fs.FailNext(remotetest.OpConnect, errors.New("dial tcp: lookup fake.example.com: no such host"))

				err := newService(cfg, fs, afero.NewOsFs(), nil).Run(t.Context())
				require.Error(t, err)
				require.Equal(t, 1, failure.ExitCode(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tt.do(t, testConfig(t), remotetest.New())
			},
		)
	}
}
