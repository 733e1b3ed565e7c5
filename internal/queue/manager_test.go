package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), 5*time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

type testPayload struct {
	Value string `json:"value"`
}

func TestEnqueueReceiveDone(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "test.task", msg.Type)
	assert.Equal(t, 1, msg.Attempts)
	assert.JSONEq(t, `{"value": "hello"}`, string(msg.Payload))

	require.NoError(t, mgr.Done(ctx, msg))

	_, err = mgr.Receive(ctx, "work")
	assert.Equal(t, ErrNoMessage, err)

	stats, err := mgr.Stats("work", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestReceiveEmptyQueue(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Receive(context.Background(), "empty")
	assert.Equal(t, ErrNoMessage, err)
}

func TestDelayedMessageInvisibleUntilDue(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "later"}, WithDelay(1*time.Hour))
	require.NoError(t, err)

	_, err = mgr.Receive(ctx, "work")
	assert.Equal(t, ErrNoMessage, err)

	stats, err := mgr.Stats("work", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
	assert.Equal(t, 0, stats.Waiting)
}

func TestDedupSuppressesSecondEnqueue(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "a"}, WithDedupID("job:1"))
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Same dedup id while the first message is live: suppressed, empty id
	second, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "b"}, WithDedupID("job:1"))
	require.NoError(t, err)
	assert.Empty(t, second)

	// After the first message completes the dedup key is released
	msg, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, mgr.Done(ctx, msg))

	third, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "c"}, WithDedupID("job:1"))
	require.NoError(t, err)
	assert.NotEmpty(t, third)
}

func TestRetryMakesMessageVisibleAgain(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "retry me"})
	require.NoError(t, err)

	msg, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Attempts)

	require.NoError(t, mgr.Retry(ctx, msg, 0))

	again, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestExhaustInvokesFailureHook(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	var hookQueue string
	var hookMsg *Message
	var hookErr error
	mgr.SetFailureHook(func(queueName string, msg *Message, err error) {
		hookQueue = queueName
		hookMsg = msg
		hookErr = err
	})

	_, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "doomed"})
	require.NoError(t, err)

	msg, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)

	cause := errors.New("handler kept failing")
	require.NoError(t, mgr.Exhaust(ctx, msg, cause))

	assert.Equal(t, "work", hookQueue)
	require.NotNil(t, hookMsg)
	assert.Equal(t, msg.ID, hookMsg.ID)
	assert.Equal(t, cause, hookErr)

	_, err = mgr.Receive(ctx, "work")
	assert.Equal(t, ErrNoMessage, err)

	stats, err := mgr.Stats("work", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestMessagesDeliveredInVisibilityOrder(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "1"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "2"})
	require.NoError(t, err)

	msg1, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, first, msg1.ID)

	msg2, err := mgr.Receive(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, second, msg2.ID)
}

func TestQueuesAreIsolated(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Enqueue(ctx, "alpha", "test.task", testPayload{Value: "a"})
	require.NoError(t, err)

	_, err = mgr.Receive(ctx, "beta")
	assert.Equal(t, ErrNoMessage, err)

	msg, err := mgr.Receive(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, mgr.Done(ctx, msg))
}

func TestStatsWaitingThreshold(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.Enqueue(ctx, "work", "test.task", testPayload{Value: "x"})
		require.NoError(t, err)
	}

	stats, err := mgr.Stats("work", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Waiting)
	assert.True(t, stats.Unhealthy)

	stats, err = mgr.Stats("work", 10)
	require.NoError(t, err)
	assert.False(t, stats.Unhealthy)
}

func TestWorkerPoolBackoffDoublesAndCaps(t *testing.T) {
	pool := NewWorkerPool(newTestManager(t), "work", 1, time.Second, 0, arbor.NewLogger())

	assert.Equal(t, 30*time.Second, pool.backoff(1))
	assert.Equal(t, 1*time.Minute, pool.backoff(2))
	assert.Equal(t, 2*time.Minute, pool.backoff(3))
	assert.Equal(t, 10*time.Minute, pool.backoff(7))
	assert.Equal(t, 10*time.Minute, pool.backoff(50))
}
