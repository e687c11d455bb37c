package remote

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/torfstack/ftpsync/internal/auth"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/logging"
	"golang.org/x/crypto/ssh"
)

// Tunnel forwards connections to the remote server through an ssh bastion.
// The bastion session is opened on first use and reopened after it breaks.
type Tunnel struct {
	addr    string
	creds   auth.Credentials
	timeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

func NewTunnel(cfg config.Config) *Tunnel {
	return &Tunnel{
		addr: cfg.SSHAddr(),
		creds: auth.Credentials{
			User:       cfg.SSH.User,
			PrivateKey: cfg.SSH.PrivateKey,
			KnownHosts: cfg.KnownHosts,
		},
		timeout: cfg.Timeout,
	}
}

func (t *Tunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := t.session(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, network, addr)
	if err != nil {
		t.Close()
		return nil, failure.New(failure.CodeNetwork, "tunnel dial", addr, err)
	}
	return conn, nil
}

func (t *Tunnel) session(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	cfg, err := auth.ClientConfig(t.creds, t.timeout)
	if err != nil {
		return nil, fmt.Errorf("could not configure ssh tunnel: %w", err)
	}
	logging.Debugf("Opening ssh tunnel through '%s'", t.addr)
	conn, err := (&net.Dialer{Timeout: t.timeout}).DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, failure.New(failure.CodeUnknown, "tunnel connect", t.addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, failure.New(failure.CodeUnknown, "tunnel handshake", t.addr, err)
	}
	t.client = ssh.NewClient(sshConn, chans, reqs)
	return t.client, nil
}

func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
