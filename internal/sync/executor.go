package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/local"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/remote"
	"github.com/torfstack/ftpsync/internal/retry"
	"github.com/torfstack/ftpsync/internal/state"
)

// Download describes a finished transfer.
type Download struct {
	Task
	Size         int64
	Checksum     string
	DownloadedAt time.Time
}

type ExecutorOptions struct {
	Options
	// Output is the filesystem downloads are written to, the OS filesystem
	// when nil.
	Output afero.Fs
	// Persist stores the registry once the run ends, failed or not.
	Persist func(*state.Registry) error
	// OnDownload is called after every completed download.
	OnDownload func(context.Context, Download) error
}

type Executor struct {
	fs         remote.FS
	retry      *retry.Executor
	registry   *state.Registry
	output     *local.Output
	classifier failure.Classifier
	opts       ExecutorOptions
}

func NewExecutor(fs remote.FS, r *retry.Executor, registry *state.Registry, opts ExecutorOptions) *Executor {
	return &Executor{
		fs:         fs,
		retry:      r,
		registry:   registry,
		output:     local.NewOutput(opts.Output),
		classifier: failure.Classifier{SkipFileNotFound: opts.SkipFileNotFound},
		opts:       opts,
	}
}

// Run downloads every new or updated file selected by sourcePattern into
// destinationDir and returns the number of files transferred.
func (e *Executor) Run(ctx context.Context, sourcePattern, destinationDir string) (downloaded int, err error) {
	defer func() {
		if e.opts.Persist == nil {
			return
		}
		if perr := e.opts.Persist(e.registry); perr != nil {
			if err == nil {
				err = fmt.Errorf("could not persist state: %w", perr)
				return
			}
			logging.Error("Could not persist state", perr)
		}
	}()

	if err = e.TestConnection(ctx); err != nil {
		return 0, err
	}

	tasks, err := NewPlanner(e.fs, e.retry, e.registry, e.opts.Options).Plan(ctx, sourcePattern, destinationDir)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		ok, err := e.download(ctx, task)
		if err != nil {
			return downloaded, err
		}
		if ok {
			downloaded++
		}
	}
	logging.Infof("Downloaded %d file(s)", downloaded)
	return downloaded, nil
}

// TestConnection connects to the server and verifies the session.
func (e *Executor) TestConnection(ctx context.Context) error {
	if err := e.retry.Connect(ctx, e.fs.Addr(), e.fs.Connect); err != nil {
		logging.Errorf("Connection failed: %s", failure.Describe(err))
		return err
	}
	logging.Info("Connection successful")
	return nil
}

// download transfers one task. It reports false when the file was skipped.
func (e *Executor) download(ctx context.Context, task Task) (bool, error) {
	logging.Infof("Downloading file %s", task.SourcePath)

	var file *local.File
	err := e.retry.Run(
		ctx, "download "+task.SourcePath, func(ctx context.Context) error {
			remoteSize := e.remoteSize(ctx, task.SourcePath)

			r, err := e.fs.Open(ctx, task.SourcePath)
			if err != nil {
				return err
			}
			f, err := e.output.Create(
				task.DestinationPath, r, func(f *local.File) error {
					if remoteSize > 0 && f.Size != remoteSize {
						return failure.Newf(
							failure.CodeSizeMismatch,
							"The size of the downloaded file %q does not match the size reported from the FTP server. "+
								"FTP size: %s, local size: %s.",
							task.SourcePath, humanize.IBytes(uint64(remoteSize)), humanize.IBytes(uint64(f.Size)),
						)
					}
					return nil
				},
			)
			closeErr := r.Close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			file = f
			return nil
		},
	)
	if err != nil {
		if e.classifier.Classify(err) == failure.Skippable {
			logging.Warnf("File %q not found on FTP server.", task.SourcePath)
			return false, nil
		}
		return false, err
	}
	logging.Debugf("Wrote %s to '%s'", humanize.IBytes(uint64(file.Size)), file.Path)

	if e.opts.OnlyNewFiles {
		e.registry.ShouldBeFileUpdated(task.SourcePath, task.Timestamp)
	}
	if e.opts.OnDownload != nil {
		d := Download{Task: task, Size: file.Size, Checksum: file.Checksum(), DownloadedAt: time.Now()}
		if err = e.opts.OnDownload(ctx, d); err != nil {
			logging.Error("Could not record download", err)
		}
	}
	return true, nil
}

// remoteSize returns the size the server reports, or 0 when it cannot tell.
func (e *Executor) remoteSize(ctx context.Context, path string) int64 {
	size, err := e.fs.Size(ctx, path)
	if err != nil {
		logging.Warnf("Cannot get size of the FTP file %q. %s", path, err)
		return 0
	}
	return size
}
