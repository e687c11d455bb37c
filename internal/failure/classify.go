package failure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"io/fs"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// Classifier maps errors to kinds. SkipFileNotFound turns missing files into
// Skippable failures instead of user facing ones.
type Classifier struct {
	SkipFileNotFound bool
}

type pattern struct {
	re   *regexp.Regexp
	kind Kind
	hint string
}

// Message patterns of errors that libraries only report as text. Order
// matters: authentication failures surface inside ssh handshake errors.
var patterns = []pattern{
	{
		re:   regexp.MustCompile(`(?i)unable to authenticate|authentication failed|login incorrect|not logged in`),
		kind: UserFacing,
	},
	{
		re:   regexp.MustCompile(`(?i)operation now in progress`),
		kind: Transient,
		hint: "Connection was terminated. Check that the connection is not blocked by Firewall or set ignore passive address",
	},
	{
		re:   regexp.MustCompile(`(?i)connection timed out|i/o timeout`),
		kind: Transient,
		hint: "Connection timed out. Check your timeout configuration, server health and try again.",
	},
	{
		re:   regexp.MustCompile(`(?i)tls: handshake failure|tls handshake|ssl/tls handshake failed`),
		kind: Transient,
		hint: "SSL/TLS handshake failed. Check your credentials, SSL/TLS configuration and make sure the certificate is valid and is not expired.",
	},
	{
		re:   regexp.MustCompile(`(?i)connection reset|connection lost|broken pipe|use of closed network connection`),
		kind: Transient,
	},
	{
		re:   regexp.MustCompile(`(?i)getaddrinfo failed|no such host|cannot connect to|the authenticity of|connection closed prematurely|expected ssh_`),
		kind: UserFacing,
	},
}

// Classify returns the kind of err. A nil error is Unclassified.
func (c Classifier) Classify(err error) Kind {
	if err == nil {
		return Unclassified
	}

	var fe *Error
	if errors.As(err, &fe) {
		if fe.Kind != Unclassified {
			return fe.Kind
		}
		if k, ok := c.kindOfCode(fe.Code); ok {
			return k
		}
	}

	return c.classifyCause(err)
}

func (c Classifier) kindOfCode(code Code) (Kind, bool) {
	switch code {
	case CodeNotFound:
		return c.notFound(), true
	case CodeUnauthorized, CodeInvalidConfig, CodeInvalidInput, CodeSizeMismatch:
		return UserFacing, true
	case CodeNetwork, CodeTimeout, CodeUnavailable:
		return Transient, true
	case CodeInternal:
		return Internal, true
	default:
		return Unclassified, false
	}
}

func (c Classifier) notFound() Kind {
	if c.SkipFileNotFound {
		return Skippable
	}
	return UserFacing
}

func (c Classifier) classifyCause(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return UserFacing
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	case errors.Is(err, fs.ErrNotExist):
		return c.notFound()
	case errors.Is(err, fs.ErrPermission):
		return UserFacing
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EINPROGRESS),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return Transient
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return UserFacing
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return Transient
		}
		return UserFacing
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	var certErr *tls.CertificateVerificationError
	var headerErr tls.RecordHeaderError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &headerErr) ||
		errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return UserFacing
	}

	msg := err.Error()
	for _, p := range patterns {
		if p.re.MatchString(msg) {
			return p.kind
		}
	}
	return Internal
}

// Describe returns a one-line operator message for err, adding a hint for
// well known connection problems.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, p := range patterns {
		if p.hint != "" && p.re.MatchString(msg) {
			if strings.HasSuffix(p.hint, ".") {
				return p.hint
			}
			return p.hint + ": " + msg
		}
	}
	return msg
}
