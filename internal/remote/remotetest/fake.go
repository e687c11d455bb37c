// Package remotetest provides an in-memory remote.FS with failure injection.
package remotetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
	"github.com/torfstack/ftpsync/internal/remote"
)

// Operation names used for failure injection and call counting.
const (
	OpConnect = "connect"
	OpList    = "list"
	OpStat    = "stat"
	OpModTime = "mtime"
	OpSize    = "size"
	OpOpen    = "open"
)

type File struct {
	Data    []byte
	ModTime int64
	// ReportedSize overrides the size the server claims when not negative.
	ReportedSize int64
}

type FS struct {
	// ListTimestamps makes listings carry modification times.
	ListTimestamps bool
	// Truncate drops that many bytes from every download.
	Truncate int

	mu       sync.Mutex
	files    map[string]File
	failures map[string][]error
	calls    map[string]int
	opened   []string
}

var _ remote.FS = (*FS)(nil)

func New() *FS {
	return &FS{
		files:    make(map[string]File),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *FS) Add(p string, data string, modTime int64) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[glob.ToAbsolute(p)] = File{Data: []byte(data), ModTime: modTime, ReportedSize: -1}
	return f
}

func (f *FS) SetReportedSize(p string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.files[glob.ToAbsolute(p)]
	file.ReportedSize = size
	f.files[glob.ToAbsolute(p)] = file
}

func (f *FS) Remove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, glob.ToAbsolute(p))
}

// FailNext makes the next calls of op fail with errs, one per call.
func (f *FS) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *FS) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Opened lists the paths passed to Open, in call order.
func (f *FS) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.opened)
}

func (f *FS) call(op string) error {
	f.calls[op]++
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *FS) Addr() string {
	return "fake.example.com:21"
}

func (f *FS) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(OpConnect)
}

func (f *FS) ListRecursive(_ context.Context, base string) ([]remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpList); err != nil {
		return nil, err
	}

	base = path.Clean(glob.ToAbsolute(base))
	prefix := strings.TrimSuffix(base, "/") + "/"
	dirs := make(map[string]struct{})
	var entries []remote.Entry
	for p, file := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		for d := path.Dir(p); d != base && strings.HasPrefix(d, prefix); d = path.Dir(d) {
			dirs[d] = struct{}{}
		}
		e := remote.Entry{Path: p, Kind: remote.KindFile, Size: f.size(file), HasSize: true}
		if f.ListTimestamps {
			e.ModTime, e.HasModTime = file.ModTime, true
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 && !f.isDir(base) {
		return nil, notFound("list", base)
	}
	for d := range dirs {
		entries = append(entries, remote.Entry{Path: d, Kind: remote.KindDirectory})
	}
	slices.SortFunc(
		entries, func(a, b remote.Entry) int {
			return strings.Compare(a.Path, b.Path)
		},
	)
	return entries, nil
}

func (f *FS) Stat(_ context.Context, p string) (remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpStat); err != nil {
		return remote.Entry{}, err
	}
	p = glob.ToAbsolute(p)
	if file, ok := f.files[p]; ok {
		return remote.Entry{Path: p, Kind: remote.KindFile, Size: f.size(file), HasSize: true}, nil
	}
	if f.isDir(p) {
		return remote.Entry{Path: p, Kind: remote.KindDirectory}, nil
	}
	return remote.Entry{}, notFound("stat", p)
}

func (f *FS) ModTime(_ context.Context, p string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpModTime); err != nil {
		return 0, err
	}
	file, ok := f.files[glob.ToAbsolute(p)]
	if !ok {
		return 0, notFound("mtime", p)
	}
	return file.ModTime, nil
}

func (f *FS) Size(_ context.Context, p string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpSize); err != nil {
		return 0, err
	}
	file, ok := f.files[glob.ToAbsolute(p)]
	if !ok {
		return 0, notFound("size", p)
	}
	return f.size(file), nil
}

func (f *FS) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, glob.ToAbsolute(p))
	if err := f.call(OpOpen); err != nil {
		return nil, err
	}
	file, ok := f.files[glob.ToAbsolute(p)]
	if !ok {
		return nil, notFound("open", p)
	}
	data := file.Data
	if f.Truncate > 0 {
		data = data[:max(len(data)-f.Truncate, 0)]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FS) Close() error {
	return nil
}

func (f *FS) size(file File) int64 {
	if file.ReportedSize >= 0 {
		return file.ReportedSize
	}
	return int64(len(file.Data))
}

func (f *FS) isDir(p string) bool {
	if p == "/" {
		return true
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for name := range f.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func notFound(op, p string) error {
	return failure.New(failure.CodeNotFound, op, p, errors.New("no such file or directory"))
}
