package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/torfstack/ftpsync/internal/auth"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
	"github.com/torfstack/ftpsync/internal/logging"
	"golang.org/x/crypto/ssh"
)

type sftpFS struct {
	addr     string
	creds    auth.Credentials
	timeout  time.Duration
	absolute bool
	dial     dialFunc
	tunnel   *Tunnel
	// connect opens the sftp session, replaced in tests.
	connect func(ctx context.Context) (*sftp.Client, io.Closer, error)

	client *sftp.Client
	closer io.Closer
	root   string
}

func newSFTP(cfg config.Config, dial dialFunc, tunnel *Tunnel) *sftpFS {
	s := &sftpFS{
		addr: cfg.Addr(),
		creds: auth.Credentials{
			User:       cfg.Username,
			Password:   cfg.Password,
			PrivateKey: cfg.PrivateKey,
			KnownHosts: cfg.KnownHosts,
		},
		timeout:  cfg.Timeout,
		absolute: strings.HasPrefix(cfg.Path, "/"),
		dial:     dial,
		tunnel:   tunnel,
	}
	s.connect = s.connectSSH
	return s
}

func (s *sftpFS) Addr() string {
	return s.addr
}

func (s *sftpFS) Connect(ctx context.Context) error {
	s.drop()
	c, err := s.session(ctx)
	if err != nil {
		return err
	}
	if _, err = c.Stat(s.root); err != nil {
		return s.fail("stat", s.root, err)
	}
	return nil
}

func (s *sftpFS) connectSSH(ctx context.Context) (*sftp.Client, io.Closer, error) {
	cfg, err := auth.ClientConfig(s.creds, s.timeout)
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return nil, nil, failure.New(failure.CodeUnknown, "connect", s.addr, err)
	}
	if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, s.addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, nil, failure.New(failure.CodeUnknown, "handshake", s.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, failure.New(failure.CodeUnknown, "start sftp subsystem", s.addr, err)
	}
	return client, sshClient, nil
}

func (s *sftpFS) session(ctx context.Context) (*sftp.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	client, closer, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if s.root == "" {
		s.root = "/"
		if !s.absolute {
			wd, err := client.Getwd()
			if err != nil {
				_ = client.Close()
				if closer != nil {
					_ = closer.Close()
				}
				return nil, failure.New(sftpCode(err), "getwd", "", err)
			}
			s.root = wd
		}
		logging.Debugf("SFTP root is '%s'", s.root)
	}
	s.client, s.closer = client, closer
	return client, nil
}

func (s *sftpFS) ListRecursive(ctx context.Context, base string) ([]Entry, error) {
	c, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	remoteBase := toRemote(s.root, base)
	var entries []Entry
	w := c.Walk(remoteBase)
	for w.Step() {
		if err = w.Err(); err != nil {
			return nil, s.fail("list", toLogical(s.root, w.Path()), err)
		}
		info := w.Stat()
		if info.Mode()&os.ModeSymlink != 0 {
			if target, err := c.Stat(w.Path()); err == nil {
				info = target
			}
		}
		if w.Path() == remoteBase && info.IsDir() {
			continue
		}
		entry, ok := entryOf(toLogical(s.root, w.Path()), info)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *sftpFS) Stat(ctx context.Context, p string) (Entry, error) {
	info, err := s.stat(ctx, "stat", p)
	if err != nil {
		return Entry{}, err
	}
	entry, ok := entryOf(glob.ToAbsolute(p), info)
	if !ok {
		return Entry{}, failure.New(failure.CodeNotFound, "stat", p, fmt.Errorf("%s is neither file nor directory", info.Mode()))
	}
	return entry, nil
}

func (s *sftpFS) ModTime(ctx context.Context, p string) (int64, error) {
	info, err := s.stat(ctx, "mtime", p)
	if err != nil {
		return 0, err
	}
	return info.ModTime().Unix(), nil
}

func (s *sftpFS) Size(ctx context.Context, p string) (int64, error) {
	info, err := s.stat(ctx, "size", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *sftpFS) stat(ctx context.Context, op, p string) (fs.FileInfo, error) {
	c, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.Stat(toRemote(s.root, p))
	if err != nil {
		return nil, s.fail(op, p, err)
	}
	return info, nil
}

func (s *sftpFS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Open(toRemote(s.root, p))
	if err != nil {
		return nil, s.fail("open", p, err)
	}
	return f, nil
}

func (s *sftpFS) Close() error {
	s.drop()
	if s.tunnel != nil {
		return s.tunnel.Close()
	}
	return nil
}

func (s *sftpFS) drop() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		logging.Debugf("Could not close sftp session: %s", err)
	}
	if s.closer != nil {
		_ = s.closer.Close()
	}
	s.client, s.closer = nil, nil
}

// fail wraps err with its code. Any error that is not a status reply from
// the server drops the session.
func (s *sftpFS) fail(op, p string, err error) error {
	var status *sftp.StatusError
	if !errors.As(err, &status) && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) {
		s.drop()
	}
	return failure.New(sftpCode(err), op, p, err)
}

func sftpCode(err error) failure.Code {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return failure.CodeNotFound
	case errors.Is(err, fs.ErrPermission):
		return failure.CodeUnauthorized
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return failure.CodeNetwork
	default:
		return failure.CodeUnknown
	}
}

func entryOf(p string, info fs.FileInfo) (Entry, bool) {
	switch {
	case info.IsDir():
		return Entry{Path: path.Clean(p), Kind: KindDirectory}, true
	case info.Mode().IsRegular():
		return Entry{
			Path:       path.Clean(p),
			Kind:       KindFile,
			ModTime:    info.ModTime().Unix(),
			HasModTime: true,
			Size:       info.Size(),
			HasSize:    true,
		}, true
	default:
		return Entry{}, false
	}
}
