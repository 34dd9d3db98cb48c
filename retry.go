package smbstore

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy defines how the transport retries connection setup.
// Adapter operations themselves are never retried.
type RetryPolicy struct {
	MaxAttempts  int           // Maximum number of attempts (default: 3)
	InitialDelay time.Duration // Initial delay between retries (default: 100ms)
	MaxDelay     time.Duration // Maximum delay between retries (default: 5s)
}

// defaultRetryPolicy is the default retry policy.
var defaultRetryPolicy = &RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// options converts the policy into retry-go options with exponential
// backoff. Only transient network failures are retried.
func (p *RetryPolicy) options(ctx context.Context, log logrus.FieldLogger, target string) []retry.Option {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return []retry.Option{
		retry.Attempts(uint(attempts)),
		retry.Delay(p.InitialDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WithFields(logrus.Fields{
				"component": logComponent,
				"endpoint":  target,
				"attempt":   n + 1,
			}).Warnf("connection attempt failed, retrying: %v", err)
		}),
	}
}

// withDialRetry runs dial under the policy.
func withDialRetry[T any](ctx context.Context, p *RetryPolicy, log logrus.FieldLogger, target string, dial func() (T, error)) (T, error) {
	if p == nil {
		p = defaultRetryPolicy
	}
	return retry.DoWithData(dial, p.options(ctx, log, target)...)
}
