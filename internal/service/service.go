package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/db"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/remote"
	"github.com/torfstack/ftpsync/internal/retry"
	"github.com/torfstack/ftpsync/internal/state"
	"github.com/torfstack/ftpsync/internal/sync"
)

type Service struct {
	cfg     config.Config
	fs      remote.FS
	out     afero.Fs
	retry   *retry.Executor
	journal *db.Database
}

func NewService(ctx context.Context, cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs, err := remote.New(cfg)
	if err != nil {
		return nil, err
	}
	var journal *db.Database
	if cfg.Journal.Path != "" {
		journal, err = db.New(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("could not open transfer journal: %w", err)
		}
	}
	return newService(cfg, fs, afero.NewOsFs(), journal), nil
}

func newService(cfg config.Config, fs remote.FS, out afero.Fs, journal *db.Database) *Service {
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BackoffBase: cfg.Retry.BackoffBase}
	return &Service{
		cfg:     cfg,
		fs:      fs,
		out:     out,
		retry:   retry.NewExecutor(policy, failure.Classifier{}),
		journal: journal,
	}
}

func (s *Service) Close() error {
	err := s.fs.Close()
	if s.journal != nil {
		if jerr := s.journal.Close(); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}

// Run performs the configured action.
func (s *Service) Run(ctx context.Context) error {
	switch s.cfg.Action {
	case config.ActionTestConnection:
		return s.TestConnection(ctx)
	default:
		_, err := s.Sync(ctx)
		return err
	}
}

func (s *Service) TestConnection(ctx context.Context) error {
	return s.executor(state.NewRegistry(state.State{}), nil).TestConnection(ctx)
}

// Sync runs one incremental pass and returns the number of downloaded files.
func (s *Service) Sync(ctx context.Context) (int, error) {
	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	registry, err := s.loadRegistry()
	if err != nil {
		return 0, err
	}
	logging.Debugf("Newest timestamp of the previous run is %d", registry.NewestTimestamp())

	var run *db.Run
	if s.journal != nil {
		run = s.journal.StartRun()
		logging.Debugf("Recording transfers of run %s", run.ID)
	}
	return s.executor(registry, run).Run(ctx, s.cfg.Path, s.cfg.OutputDir)
}

// History returns the latest recorded transfers.
func (s *Service) History(ctx context.Context, limit int) ([]db.Transfer, error) {
	if s.journal == nil {
		return nil, failure.Newf(failure.CodeInvalidConfig, "transfer journal is disabled, set journal.path in the config")
	}
	return s.journal.Queries().ListTransfers(ctx, limit)
}

func (s *Service) executor(registry *state.Registry, run *db.Run) *sync.Executor {
	opts := sync.ExecutorOptions{
		Options: sync.Options{
			OnlyNewFiles:     s.cfg.OnlyNewFiles,
			SkipFileNotFound: s.cfg.SkipFileNotFound,
		},
		Output:  s.out,
		Persist: s.persist,
	}
	if run != nil {
		opts.OnDownload = func(ctx context.Context, d sync.Download) error {
			err := run.Record(
				ctx, db.Transfer{
					SourcePath:   d.SourcePath,
					Destination:  d.DestinationPath,
					Size:         d.Size,
					Checksum:     d.Checksum,
					RemoteMTime:  d.Timestamp,
					DownloadedAt: d.DownloadedAt,
				},
			)
			if err != nil {
				return failure.Application(err)
			}
			return nil
		}
	}
	return sync.NewExecutor(s.fs, s.retry, registry, opts)
}

func (s *Service) loadRegistry() (*state.Registry, error) {
	if s.cfg.State.InputPath == "" {
		return state.NewRegistry(state.State{}), nil
	}
	doc, err := state.LoadDocument(s.out, s.cfg.State.InputPath)
	if err != nil {
		return nil, failure.User(err, "")
	}
	registry, err := doc.Registry()
	if err != nil {
		return nil, failure.User(err, "")
	}
	return registry, nil
}

func (s *Service) persist(r *state.Registry) error {
	if s.cfg.State.OutputPath == "" {
		logging.Debug("No state output path configured, state is not persisted")
		return nil
	}
	logging.Debugf("Persisting state to '%s'", s.cfg.State.OutputPath)
	return state.Persist(s.out, s.cfg.State.InputPath, s.cfg.State.OutputPath, r)
}

// lock prevents two processes from syncing against the same state file.
func (s *Service) lock() (func(), error) {
	if s.cfg.State.OutputPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.State.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	lock := flock.New(s.cfg.State.OutputPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not lock state '%s': %w", s.cfg.State.OutputPath, err)
	}
	if !locked {
		return nil, failure.Newf(
			failure.CodeInvalidInput,
			"another ftpsync process is using the state file '%s'", s.cfg.State.OutputPath,
		)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logging.Error("Could not release state lock", err)
		}
	}, nil
}
