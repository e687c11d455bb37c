// Package sync decides which remote files a run downloads and downloads
// them.
package sync

import (
	"cmp"
	"context"
	"slices"

	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/remote"
	"github.com/torfstack/ftpsync/internal/retry"
	"github.com/torfstack/ftpsync/internal/state"
)

const progressEvery = 10

// Task is one file to download. Timestamp is zero when change detection is
// disabled.
type Task struct {
	SourcePath      string
	DestinationPath string
	Timestamp       int64
}

type Options struct {
	// OnlyNewFiles enables change detection against the registry.
	OnlyNewFiles bool
	// SkipFileNotFound drops files that vanish between listing and download
	// instead of failing the run.
	SkipFileNotFound bool
}

type Planner struct {
	fs         remote.FS
	retry      *retry.Executor
	registry   *state.Registry
	classifier failure.Classifier
	opts       Options
}

func NewPlanner(fs remote.FS, r *retry.Executor, registry *state.Registry, opts Options) *Planner {
	return &Planner{
		fs:         fs,
		retry:      r,
		registry:   registry,
		classifier: failure.Classifier{SkipFileNotFound: opts.SkipFileNotFound},
		opts:       opts,
	}
}

// Plan returns the files selected by sourcePattern that have to be
// downloaded, sorted by ascending timestamp. The registry is only read.
func (p *Planner) Plan(ctx context.Context, sourcePattern, destinationDir string) ([]Task, error) {
	pattern := glob.ToAbsolute(sourcePattern)
	candidates, err := p.candidates(ctx, pattern)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for i, c := range candidates {
		if i%progressEvery == 0 {
			logging.Infof(
				"Checked %d of a possible %d files and found %d to download so far",
				i, len(candidates), len(tasks),
			)
		}
		if !glob.Match(c.Path, pattern) {
			continue
		}

		var timestamp int64
		if p.opts.OnlyNewFiles {
			timestamp, err = p.timestamp(ctx, c)
			if err != nil {
				if p.classifier.Classify(err) == failure.Skippable {
					logging.Warnf("File %q not found on FTP server.", c.Path)
					continue
				}
				return nil, err
			}
			if !p.registry.Accepts(c.Path, timestamp) {
				continue
			}
		}

		tasks = append(
			tasks, Task{
				SourcePath:      c.Path,
				DestinationPath: Destination(destinationDir, c.Path),
				Timestamp:       timestamp,
			},
		)
	}
	logging.Infof("%d files are ready for download", len(tasks))

	slices.SortStableFunc(
		tasks, func(a, b Task) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		},
	)
	return tasks, nil
}

// candidates returns the files that may match pattern: the file itself for a
// literal path, otherwise every file below the base directory.
func (p *Planner) candidates(ctx context.Context, pattern string) ([]remote.Entry, error) {
	var (
		entries []remote.Entry
		err     error
	)
	if glob.IsLiteral(pattern) {
		path := glob.Unescape(pattern)
		var entry remote.Entry
		entry, err = retry.Do(
			ctx, p.retry, "stat "+path, func(ctx context.Context) (remote.Entry, error) {
				return p.fs.Stat(ctx, path)
			},
		)
		entries = []remote.Entry{entry}
	} else {
		logging.Info("Fetching list of files in base path")
		base := glob.BaseDir(pattern)
		entries, err = retry.Do(
			ctx, p.retry, "list "+base, func(ctx context.Context) ([]remote.Entry, error) {
				return p.fs.ListRecursive(ctx, base)
			},
		)
	}
	if err != nil {
		if p.classifier.Classify(err) == failure.Skippable {
			logging.Warnf("Path %q not found on FTP server.", pattern)
			return nil, nil
		}
		return nil, err
	}

	total := len(entries)
	logging.Infof("Base path listing contains %d item(s) including directories", total)
	files := slices.DeleteFunc(
		entries, func(e remote.Entry) bool {
			return e.Kind != remote.KindFile
		},
	)
	logging.Infof("%d item(s) filtered out", total-len(files))
	logging.Infof("Base path contains %d file(s)", len(files))
	return files, nil
}

func (p *Planner) timestamp(ctx context.Context, e remote.Entry) (int64, error) {
	if e.HasModTime {
		return e.ModTime, nil
	}
	return retry.Do(
		ctx, p.retry, "get timestamp of "+e.Path, func(ctx context.Context) (int64, error) {
			return p.fs.ModTime(ctx, e.Path)
		},
	)
}
