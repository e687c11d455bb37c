// Package retry runs remote operations with bounded retries and exponential
// backoff. Only transient failures are retried.
package retry

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 300 * time.Millisecond
)

// Policy bounds the retries of one wrapped call. The wait before attempt n+1
// is BackoffBase * 2^(n-1).
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BackoffBase: DefaultBackoffBase}
}

type Executor struct {
	policy     Policy
	classifier failure.Classifier
}

func NewExecutor(policy Policy, classifier failure.Classifier) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = time.Millisecond
	}
	return &Executor{policy: policy, classifier: classifier}
}

func (e *Executor) Policy() Policy {
	return e.policy
}

func (e *Executor) backoff() retry.Backoff {
	return retry.WithMaxRetries(
		uint64(e.policy.MaxAttempts-1),
		retry.NewExponential(e.policy.BackoffBase),
	)
}

// Do calls fn until it succeeds, fails with a non transient error or the
// attempt budget is spent. A transient failure that survives every attempt is
// returned as a user facing error.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
		lastErr error
	)
	err := retry.Do(
		ctx, e.backoff(), func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				logging.Warnf(
					"Retrying %s, attempt %d of %d. Previous attempt failed: %s",
					op, attempt, e.policy.MaxAttempts, lastErr,
				)
			}
			v, err := fn(ctx)
			if err == nil {
				result = v
				return nil
			}
			lastErr = err
			if e.classifier.Classify(err) == failure.Transient {
				return retry.RetryableError(err)
			}
			return err
		},
	)
	if err == nil {
		return result, nil
	}
	if e.classifier.Classify(err) == failure.Transient {
		return result, failure.User(
			err,
			fmt.Sprintf("%s failed after %d attempt(s): %s", op, attempt, failure.Describe(err)),
		)
	}
	return result, err
}

// Run is Do for operations without a result.
func (e *Executor) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(
		ctx, e, op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		},
	)
	return err
}

// Connect wraps the connection attempt to addr, logging the target once
// before the first attempt.
func (e *Executor) Connect(ctx context.Context, addr string, fn func(context.Context) error) error {
	if host, port, err := net.SplitHostPort(addr); err == nil {
		logging.Infof("Connecting to host %q on port %q.", host, port)
	} else {
		logging.Infof("Connecting to %q.", addr)
	}
	return e.Run(ctx, "connect", fn)
}
