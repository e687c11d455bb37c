package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
	"github.com/torfstack/ftpsync/internal/logging"
)

// FTP reply codes the adapter reacts to.
const (
	replyUserOK              = 331
	replyNotAvailable        = 421
	replyBadCommand          = 500
	replyBadArguments        = 501
	replyNotImplemented      = 502
	replyParamNotImplemented = 504
	replyNotLoggedIn         = 530
	replyFileUnavailable     = 550
)

type ftpFS struct {
	addr        string
	user        string
	password    string
	timeout     time.Duration
	tlsConfig   *tls.Config
	disableEPSV bool
	dial        dialFunc
	tunnel      *Tunnel

	conn *ftp.ServerConn
	root string
}

func newFTP(cfg config.Config, dial dialFunc, tunnel *Tunnel) *ftpFS {
	f := &ftpFS{
		addr:        cfg.Addr(),
		user:        cfg.Username,
		password:    cfg.Password,
		timeout:     cfg.Timeout,
		disableEPSV: cfg.DisableEPSV,
		dial:        dial,
		tunnel:      tunnel,
	}
	if cfg.ConnectionType == config.FTPS {
		f.tlsConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}
	return f
}

func (f *ftpFS) Addr() string {
	return f.addr
}

func (f *ftpFS) Connect(ctx context.Context) error {
	f.drop()
	c, err := f.session(ctx)
	if err != nil {
		return err
	}
	if err = c.NoOp(); err != nil {
		return f.fail("noop", "", err)
	}
	return nil
}

func (f *ftpFS) session(ctx context.Context) (*ftp.ServerConn, error) {
	if f.conn != nil {
		return f.conn, nil
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.timeout),
		ftp.DialWithDisabledEPSV(f.disableEPSV),
		ftp.DialWithDialFunc(
			func(network, address string) (net.Conn, error) {
				return f.dial(context.Background(), network, address)
			},
		),
	}
	if f.tlsConfig != nil {
		opts = append(opts, ftp.DialWithExplicitTLS(f.tlsConfig))
	}

	c, err := ftp.Dial(f.addr, opts...)
	if err != nil {
		return nil, failure.New(ftpCode(err), "connect", f.addr, err)
	}
	if err = c.Login(f.user, f.password); err != nil {
		_ = c.Quit()
		return nil, failure.New(ftpCode(err), "login", f.user, err)
	}
	if f.root == "" {
		pwd, err := c.CurrentDir()
		if err != nil || pwd == "" {
			pwd = "/"
		}
		f.root = pwd
		logging.Debugf("FTP root is '%s'", f.root)
	}
	f.conn = c
	return c, nil
}

func (f *ftpFS) ListRecursive(ctx context.Context, base string) ([]Entry, error) {
	c, err := f.session(ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	w := c.Walk(toRemote(f.root, base))
	for w.Next() {
		e := w.Stat()
		entry := Entry{Path: toLogical(f.root, w.Path())}
		switch e.Type {
		case ftp.EntryTypeFolder:
			entry.Kind = KindDirectory
		case ftp.EntryTypeFile:
			// LIST times are often minute or day precision, MDTM is asked
			// per file instead.
			entry.Kind = KindFile
			entry.Size = int64(e.Size)
			entry.HasSize = true
		default:
			continue
		}
		entries = append(entries, entry)
	}
	if err = w.Err(); err != nil {
		return nil, f.fail("list", base, err)
	}
	return entries, nil
}

func (f *ftpFS) Stat(ctx context.Context, p string) (Entry, error) {
	c, err := f.session(ctx)
	if err != nil {
		return Entry{}, err
	}
	remotePath := toRemote(f.root, p)

	e, err := c.GetEntry(remotePath)
	if err == nil {
		entry := Entry{Path: glob.ToAbsolute(p), Kind: KindFile}
		if e.Type == ftp.EntryTypeFolder {
			entry.Kind = KindDirectory
		} else {
			entry.Size, entry.HasSize = int64(e.Size), true
		}
		return entry, nil
	}
	if !unsupported(err) {
		return Entry{}, f.fail("stat", p, err)
	}

	// MLST is not available everywhere, fall back to SIZE and CWD.
	if size, err := c.FileSize(remotePath); err == nil {
		return Entry{Path: glob.ToAbsolute(p), Kind: KindFile, Size: size, HasSize: true}, nil
	}
	if err = c.ChangeDir(remotePath); err != nil {
		return Entry{}, f.fail("stat", p, err)
	}
	if err = c.ChangeDir(f.root); err != nil {
		return Entry{}, f.fail("stat", p, err)
	}
	return Entry{Path: glob.ToAbsolute(p), Kind: KindDirectory}, nil
}

func (f *ftpFS) ModTime(ctx context.Context, p string) (int64, error) {
	c, err := f.session(ctx)
	if err != nil {
		return 0, err
	}
	t, err := c.GetTime(toRemote(f.root, p))
	if err != nil {
		return 0, f.fail("mtime", p, err)
	}
	return t.Unix(), nil
}

func (f *ftpFS) Size(ctx context.Context, p string) (int64, error) {
	c, err := f.session(ctx)
	if err != nil {
		return 0, err
	}
	size, err := c.FileSize(toRemote(f.root, p))
	if err != nil {
		return 0, f.fail("size", p, err)
	}
	return size, nil
}

func (f *ftpFS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c, err := f.session(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Retr(toRemote(f.root, p))
	if err != nil {
		return nil, f.fail("retr", p, err)
	}
	return &ftpReader{r: r, fs: f, path: p}, nil
}

func (f *ftpFS) Close() error {
	f.drop()
	if f.tunnel != nil {
		return f.tunnel.Close()
	}
	return nil
}

func (f *ftpFS) drop() {
	if f.conn == nil {
		return
	}
	if err := f.conn.Quit(); err != nil {
		logging.Debugf("Could not quit ftp session: %s", err)
	}
	f.conn = nil
}

// fail wraps err with its code and drops the session when the control
// connection can no longer be trusted.
func (f *ftpFS) fail(op, p string, err error) error {
	var te *textproto.Error
	if !errors.As(err, &te) || te.Code == replyNotAvailable {
		f.drop()
	}
	return failure.New(ftpCode(err), op, p, err)
}

type ftpReader struct {
	r    *ftp.Response
	fs   *ftpFS
	path string
}

func (r *ftpReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, r.fs.fail("read", r.path, err)
	}
	return n, err
}

func (r *ftpReader) Close() error {
	if err := r.r.Close(); err != nil {
		return r.fs.fail("retr", r.path, err)
	}
	return nil
}

func ftpCode(err error) failure.Code {
	var te *textproto.Error
	if !errors.As(err, &te) {
		return failure.CodeUnknown
	}
	switch te.Code {
	case replyNotLoggedIn, replyUserOK:
		return failure.CodeUnauthorized
	case replyFileUnavailable:
		return failure.CodeNotFound
	}
	// 4xx replies are transient negative completions.
	if te.Code >= 400 && te.Code < 500 {
		return failure.CodeNetwork
	}
	return failure.CodeUnknown
}

func unsupported(err error) bool {
	var te *textproto.Error
	if !errors.As(err, &te) {
		return false
	}
	switch te.Code {
	case replyBadCommand, replyBadArguments, replyNotImplemented, replyParamNotImplemented:
		return true
	}
	return false
}
