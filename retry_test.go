package smbstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNetError implements netError for testing.
type mockNetError struct {
	error
	temporary bool
	timeout   bool
}

func (e *mockNetError) Temporary() bool { return e.temporary }
func (e *mockNetError) Timeout() bool   { return e.timeout }

func fastRetry(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}
}

func TestWithDialRetry_Success(t *testing.T) {
	logger, _ := test.NewNullLogger()

	calls := 0
	v, err := withDialRetry(context.Background(), fastRetry(3), logger, "ep", func() (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestWithDialRetry_SuccessAfterRetries(t *testing.T) {
	logger, hook := test.NewNullLogger()

	calls := 0
	_, err := withDialRetry(context.Background(), fastRetry(3), logger, "alice@srv:445/docs", func() (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, &mockNetError{error: errors.New("temp error"), temporary: true}
		}
		return struct{}{}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// Each retry is logged at warn level with the endpoint
	require.Len(t, hook.AllEntries(), 2)
	entry := hook.AllEntries()[0]
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "alice@srv:445/docs", entry.Data["endpoint"])
	assert.Equal(t, logComponent, entry.Data["component"])
}

func TestWithDialRetry_NonRetryableError(t *testing.T) {
	logger, _ := test.NewNullLogger()

	permanent := errors.New("logon failure")
	calls := 0
	_, err := withDialRetry(context.Background(), fastRetry(3), logger, "ep", func() (int, error) {
		calls++
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestWithDialRetry_MaxAttemptsExceeded(t *testing.T) {
	logger, _ := test.NewNullLogger()

	transient := &mockNetError{error: errors.New("always fails"), timeout: true}
	calls := 0
	_, err := withDialRetry(context.Background(), fastRetry(3), logger, "ep", func() (int, error) {
		calls++
		return 0, transient
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithDialRetry_ContextCancellation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := &RetryPolicy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	calls := 0
	_, err := withDialRetry(ctx, policy, logger, "ep", func() (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, &mockNetError{error: errors.New("temp error"), temporary: true}
	})

	require.Error(t, err)
	assert.Less(t, calls, 10)
}

func TestWithDialRetry_NilPolicyUsesDefault(t *testing.T) {
	logger, _ := test.NewNullLogger()

	calls := 0
	_, err := withDialRetry(context.Background(), nil, logger, "ep", func() (int, error) {
		calls++
		return 0, errors.New("denied")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConnectionPool_DialRetry(t *testing.T) {
	logger, _ := test.NewNullLogger()
	backend := NewMockSMBBackend()
	factory := &flakyFactory{MockConnectionFactory: NewMockConnectionFactory(backend), failures: 2}

	pool := newConnectionPool(testEndpoint(), poolConfig{
		MaxIdle:     2,
		MaxOpen:     2,
		IdleTimeout: time.Minute,
		ConnTimeout: time.Second,
		DialRetry:   fastRetry(3),
	}, factory, logger)
	defer pool.Close()

	conn, err := pool.get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 3, factory.attempts)
	pool.put(conn)
}

// flakyFactory fails the first dials with a transient network error.
type flakyFactory struct {
	*MockConnectionFactory
	failures int
	attempts int
}

func (f *flakyFactory) CreateConnection(ep Endpoint, timeout time.Duration) (SMBSession, SMBShare, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return nil, nil, &mockNetError{error: errors.New("connection reset"), temporary: true}
	}
	return f.MockConnectionFactory.CreateConnection(ep, timeout)
}
