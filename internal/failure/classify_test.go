package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read tcp: deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		skip bool
		want Kind
	}{
		{name: "nil", err: nil, want: Unclassified},
		{name: "network code", err: New(CodeNetwork, "list", "/", errors.New("boom")), want: Transient},
		{name: "timeout code", err: New(CodeTimeout, "list", "/", errors.New("boom")), want: Transient},
		{name: "unauthorized code", err: New(CodeUnauthorized, "connect", "", errors.New("530")), want: UserFacing},
		{name: "size mismatch", err: Newf(CodeSizeMismatch, "size"), want: UserFacing},
		{name: "not found without skip", err: New(CodeNotFound, "stat", "/a", nil), want: UserFacing},
		{name: "not found with skip", err: New(CodeNotFound, "stat", "/a", nil), skip: true, want: Skippable},
		{name: "forced kind wins", err: User(New(CodeNetwork, "list", "/", nil), "gave up"), want: UserFacing},
		{name: "os not exist", err: fmt.Errorf("open: %w", os.ErrNotExist), skip: true, want: Skippable},
		{
			name: "local permission denied",
			err:  fmt.Errorf("could not persist state: %w", &os.PathError{Op: "open", Path: "/out/state.json", Err: syscall.EACCES}),
			want: UserFacing,
		},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: Transient},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: Transient},
		{name: "connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: UserFacing},
		{name: "net timeout", err: fmt.Errorf("wrapped: %w", timeoutErr{}), want: Transient},
		{name: "deadline", err: context.DeadlineExceeded, want: Transient},
		{name: "canceled", err: context.Canceled, want: UserFacing},
		{
			name: "operation now in progress",
			err:  errors.New("ftp_rawlist(): php_connect_nonb() failed: Operation now in progress (115)"),
			want: Transient,
		},
		{name: "ssh auth", err: errors.New("ssh: handshake failed: ssh: unable to authenticate"), want: UserFacing},
		{name: "getaddrinfo", err: errors.New("getaddrinfo failed: Name or service not known"), want: UserFacing},
		{name: "unknown", err: errors.New("unexpected nil pointer"), want: Internal},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				require.Equal(t, tt.want, Classifier{SkipFileNotFound: tt.skip}.Classify(tt.err))
			},
		)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T)
	}{
		{
			name: "timeout hint replaces message",
			do: func(t *testing.T) {
				msg := Describe(errors.New("ftp_mdtm(): Connection timed out"))
				require.Equal(t, "Connection timed out. Check your timeout configuration, server health and try again.", msg)
			},
		},
		{
			name: "firewall hint keeps original message",
			do: func(t *testing.T) {
				msg := Describe(errors.New("Operation now in progress (115)"))
				require.Contains(t, msg, "Check that the connection is not blocked by Firewall")
				require.Contains(t, msg, "Operation now in progress (115)")
			},
		},
		{
			name: "plain message",
			do: func(t *testing.T) {
				require.Equal(t, "boom", Describe(errors.New("boom")))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.do)
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(CodeNotFound, "stat", "/dir/a.csv", nil)
	require.Equal(t, `stat "/dir/a.csv": not found`, err.Error())
	require.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("plan: %w", err)))
	require.Equal(t, CodeUnknown, CodeOf(errors.New("x")))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(Newf(CodeInvalidConfig, "host must not be empty")))
	require.Equal(t, 1, ExitCode(User(errors.New("x"), "after 3 attempts")))
	require.Equal(t, 1, ExitCode(New(CodeNotFound, "stat", "/a", nil)))
	require.Equal(t, 1, ExitCode(fmt.Errorf("write: %w", os.ErrPermission)))
	require.Equal(t, 2, ExitCode(errors.New("unexpected nil entry")))
	require.Equal(t, 2, ExitCode(Application(errors.New("x"))))
}
