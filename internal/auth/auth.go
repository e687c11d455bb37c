// Package auth builds ssh client configurations for SFTP servers and tunnel
// bastions.
package auth

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Credentials struct {
	User string
	// Password is optional when PrivateKey is set.
	Password string
	// PrivateKey is either PEM content or the path of a PEM file.
	PrivateKey string
	// KnownHosts is the path of a known_hosts file. Empty disables host
	// key verification.
	KnownHosts string
}

func ClientConfig(creds Credentials, timeout time.Duration) (*ssh.ClientConfig, error) {
	methods, err := Methods(creds)
	if err != nil {
		return nil, err
	}
	callback, err := HostKeyCallback(creds.KnownHosts)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            creds.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         timeout,
	}, nil
}

// Methods returns the public key method first, so servers that allow both
// never see the password.
func Methods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.PrivateKey != "" {
		signer, err := signer(creds.PrivateKey)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(
			methods,
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(
				func(_, _ string, questions []string, _ []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = creds.Password
					}
					return answers, nil
				},
			),
		)
	}
	if len(methods) == 0 {
		return nil, failure.Newf(failure.CodeInvalidConfig, "no password or private key configured for user %q", creds.User)
	}
	return methods, nil
}

func HostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		logging.Debug("No known_hosts file configured, host keys are not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, failure.New(failure.CodeInvalidConfig, "read known_hosts", knownHostsPath, err)
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			return failure.User(err, fmt.Sprintf("The authenticity of host %q can't be established: %s", hostname, err))
		}
		return err
	}, nil
}

func signer(privateKey string) (ssh.Signer, error) {
	pem := []byte(privateKey)
	if !strings.Contains(privateKey, "-----BEGIN") {
		b, err := os.ReadFile(privateKey)
		if err != nil {
			return nil, failure.New(failure.CodeInvalidConfig, "read private key", privateKey, err)
		}
		pem = b
	}
	s, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, failure.Newf(failure.CodeInvalidConfig, "could not parse private key: %s", err)
	}
	return s, nil
}
