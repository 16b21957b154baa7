package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"entitlement_ledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	failures int
	sent     []AlertTask
}

func (s *recordingSender) Send(ctx context.Context, task AlertTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("push unavailable")
	}
	s.sent = append(s.sent, task)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestAlertPool_DeliversAfterRetry(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	sender := &recordingSender{failures: 2}
	pool := NewAlertPool(sender, store, 2, 10)
	pool.RetryDelay = time.Millisecond
	pool.Start()
	defer pool.Stop()

	pool.Alert("reconciliation gap", "order missing", map[string]string{"order_id": "OS1"})

	assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "OS1", sender.sent[0].Fields["order_id"])
	assert.Equal(t, 2, sender.sent[0].Retry)
}

func TestAlertPool_DeadLetterAfterMaxRetry(t *testing.T) {
	store, _ := testutil.SetupTestStore(t)
	sender := &recordingSender{failures: 100}
	pool := NewAlertPool(sender, store, 1, 10)
	pool.RetryDelay = time.Millisecond
	pool.MaxRetry = 1
	pool.Start()
	defer pool.Stop()

	pool.Alert("grant pending", "code consumed", nil)

	assert.Eventually(t, func() bool {
		dead, err := DeadLetters(context.Background(), store, 10)
		return err == nil && len(dead) == 1
	}, time.Second, 5*time.Millisecond)

	dead, err := DeadLetters(context.Background(), store, 10)
	require.NoError(t, err)
	assert.Equal(t, "grant pending", dead[0].Title)
	assert.Equal(t, "push unavailable", dead[0].LastError)
}

func TestAlertPool_LogOnlyMode(t *testing.T) {
	pool := NewAlertPool(nil, nil, 1, 1)
	pool.Start()
	pool.Alert("t", "b", nil)
	pool.Stop()
	assert.Empty(t, pool.TaskQueue)
}
