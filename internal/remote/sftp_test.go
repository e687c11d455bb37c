package remote

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"github.com/torfstack/ftpsync/internal/failure"
)

// newMemorySFTP returns an sftpFS backed by an in-memory sftp server. Every
// reconnect talks to the same files.
func newMemorySFTP(t *testing.T) (*sftpFS, *int) {
	handlers := sftp.InMemHandler()
	dials := 0
	s := &sftpFS{addr: "memory:22", absolute: true}
	s.connect = func(context.Context) (*sftp.Client, io.Closer, error) {
		dials++
		serverConn, clientConn := net.Pipe()
		server := sftp.NewRequestServer(serverConn, handlers)
		go func() {
			_ = server.Serve()
		}()
		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			return nil, nil, err
		}
		return client, server, nil
	}
	t.Cleanup(
		func() {
			_ = s.Close()
		},
	)
	return s, &dials
}

func writeRemote(t *testing.T, s *sftpFS, p, content string) {
	c, err := s.session(t.Context())
	require.NoError(t, err)
	require.NoError(t, c.MkdirAll(p[:len(p)-len("/"+lastSegment(p))]))
	f, err := c.Create(p)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func lastSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func TestSFTP(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, *sftpFS, *int)
	}{
		{
			name: "connect",
			do: func(t *testing.T, s *sftpFS, dials *int) {
				require.NoError(t, s.Connect(t.Context()))
				require.NoError(t, s.Connect(t.Context()))
				require.Equal(t, 2, *dials)
				require.Equal(t, "/", s.root)
			},
		},
		{
			name: "list recursive",
			do: func(t *testing.T, s *sftpFS, _ *int) {
				writeRemote(t, s, "/data/a.csv", "a")
				writeRemote(t, s, "/data/sub/b.csv", "bb")
				writeRemote(t, s, "/other/c.csv", "c")

				entries, err := s.ListRecursive(t.Context(), "/data")
				require.NoError(t, err)

				byPath := make(map[string]Entry)
				for _, e := range entries {
					byPath[e.Path] = e
				}
				require.Len(t, byPath, 3)
				require.Equal(t, KindDirectory, byPath["/data/sub"].Kind)
				require.Equal(t, KindFile, byPath["/data/a.csv"].Kind)
				require.True(t, byPath["/data/a.csv"].HasModTime)
				require.Equal(t, int64(2), byPath["/data/sub/b.csv"].Size)
			},
		},
		{
			name: "stat, size and open",
			do: func(t *testing.T, s *sftpFS, _ *int) {
				writeRemote(t, s, "/data/a.csv", "hello")

				e, err := s.Stat(t.Context(), "data/a.csv")
				require.NoError(t, err)
				require.Equal(t, Entry{Path: "/data/a.csv", Kind: KindFile, ModTime: e.ModTime, HasModTime: true, Size: 5, HasSize: true}, e)

				e, err = s.Stat(t.Context(), "/data")
				require.NoError(t, err)
				require.Equal(t, KindDirectory, e.Kind)

				size, err := s.Size(t.Context(), "/data/a.csv")
				require.NoError(t, err)
				require.Equal(t, int64(5), size)

				r, err := s.Open(t.Context(), "/data/a.csv")
				require.NoError(t, err)
				b, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				require.Equal(t, "hello", string(b))
			},
		},
		{
			name: "missing file is not found and keeps the session",
			do: func(t *testing.T, s *sftpFS, dials *int) {
				require.NoError(t, s.Connect(t.Context()))

				_, err := s.ModTime(t.Context(), "/missing.csv")
				require.Error(t, err)
				require.Equal(t, failure.CodeNotFound, failure.CodeOf(err))
				require.Equal(t, failure.Skippable, failure.Classifier{SkipFileNotFound: true}.Classify(err))
				require.NotNil(t, s.client)
				require.Equal(t, 1, *dials)
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				s, dials := newMemorySFTP(t)
				tt.do(t, s, dials)
			},
		)
	}
}
