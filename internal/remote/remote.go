// Package remote exposes FTP, FTPS and SFTP servers behind one read-only
// filesystem interface. Paths handed in and out are absolute logical paths
// rooted at the adapter root.
package remote

import (
	"context"
	"io"
	"net"
	"path"
	"strings"

	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
)

type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "dir"
	}
	return "file"
}

// Entry is one listing item. ModTime is in epoch seconds and only set when
// HasModTime is true; the same holds for Size.
type Entry struct {
	Path       string
	Kind       Kind
	ModTime    int64
	HasModTime bool
	Size       int64
	HasSize    bool
}

// FS is the remote filesystem capability the sync engine consumes. An FS is
// used by one goroutine at a time.
type FS interface {
	// Addr is the host:port the FS connects to.
	Addr() string
	// Connect establishes a fresh session and verifies it.
	Connect(ctx context.Context) error
	ListRecursive(ctx context.Context, base string) ([]Entry, error)
	Stat(ctx context.Context, path string) (Entry, error)
	ModTime(ctx context.Context, path string) (int64, error)
	Size(ctx context.Context, path string) (int64, error)
	// Open streams a file. The reader must be closed before the next call.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Close() error
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// New resolves the configured connection type into an FS. Nothing is dialed
// before the first call.
func New(cfg config.Config) (FS, error) {
	dial := dialFunc((&net.Dialer{Timeout: cfg.Timeout}).DialContext)
	var tunnel *Tunnel
	if cfg.SSH.Enabled {
		tunnel = NewTunnel(cfg)
		dial = tunnel.DialContext
	}

	switch cfg.ConnectionType {
	case config.FTP, config.FTPS:
		return newFTP(cfg, dial, tunnel), nil
	case config.SFTP:
		return newSFTP(cfg, dial, tunnel), nil
	default:
		return nil, failure.Newf(failure.CodeInvalidConfig, "specified connection type %q not found", cfg.ConnectionType)
	}
}

// toRemote maps a logical path onto the server path below root.
func toRemote(root, p string) string {
	return path.Join(root, glob.ToAbsolute(p))
}

// toLogical maps a server path below root back to its logical path.
func toLogical(root, p string) string {
	if root == "" || root == "/" {
		return path.Clean(glob.ToAbsolute(p))
	}
	rel := strings.TrimPrefix(path.Clean(p), strings.TrimSuffix(root, "/"))
	return path.Clean(glob.ToAbsolute(rel))
}
