package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/payment-relay/pkg/logging"
)

// recorder captures the interleaving of sends and pauses.
type recorder struct {
	steps []string
	fail  map[string]bool
}

func (r *recorder) Send(_ context.Context, text string) error {
	r.steps = append(r.steps, "send:"+text)
	if r.fail[text] {
		return errors.New("transport unavailable")
	}
	return nil
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.steps = append(r.steps, "sleep:"+d.String())
	return nil
}

func TestDrain_SendsInOrderWithDelayBetween(t *testing.T) {
	rec := &recorder{}
	q := New(time.Second, logging.Discard(), WithSleepFunc(rec.sleep))

	q.Enqueue("E1", "E1")
	q.Enqueue("E2", "E2")
	q.Enqueue("E3", "E3")
	require.Equal(t, 3, q.Len())

	result := q.Drain(context.Background(), rec)

	assert.Equal(t, []string{"send:E1", "sleep:1s", "send:E2", "sleep:1s", "send:E3"}, rec.steps)
	assert.Equal(t, DrainResult{Sent: 3}, result)
	assert.Equal(t, 0, q.Len())
}

func TestDrain_FailureDoesNotHaltOrRequeue(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"E2": true}}
	q := New(time.Second, logging.Discard(), WithSleepFunc(rec.sleep))

	q.Enqueue("E1", "E1")
	q.Enqueue("E2", "E2")
	q.Enqueue("E3", "E3")

	result := q.Drain(context.Background(), rec)

	assert.Equal(t, DrainResult{Sent: 2, Failed: 1}, result)
	assert.Contains(t, rec.steps, "send:E3")
	assert.Equal(t, 0, q.Len())
}

func TestDrain_Empty(t *testing.T) {
	rec := &recorder{}
	q := New(time.Second, logging.Discard(), WithSleepFunc(rec.sleep))

	assert.Equal(t, DrainResult{}, q.Drain(context.Background(), rec))
	assert.Empty(t, rec.steps)
}

func TestDrain_CancelledContextDiscardsRemainder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sent []string
	sender := SenderFunc(func(_ context.Context, text string) error {
		sent = append(sent, text)
		cancel()
		return nil
	})
	q := New(time.Hour, logging.Discard())

	q.Enqueue("E1", "E1")
	q.Enqueue("E2", "E2")

	result := q.Drain(ctx, sender)
	assert.Equal(t, []string{"E1"}, sent)
	assert.Equal(t, DrainResult{Sent: 1, Failed: 1}, result)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_BoundedDropsOldest(t *testing.T) {
	q := New(0, logging.Discard(), WithMaxSize(2))

	assert.Nil(t, q.Enqueue("E1", "one"))
	assert.Nil(t, q.Enqueue("E2", "two"))
	dropped := q.Enqueue("E3", "three")

	require.NotNil(t, dropped)
	assert.Equal(t, "E1", dropped.EventID)
	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "E2", items[0].EventID)
	assert.Equal(t, "E3", items[1].EventID)
}

func TestEnqueue_StampsTime(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	q := New(0, logging.Discard(), WithClock(func() time.Time { return at }))

	q.Enqueue("E1", "one")
	assert.Equal(t, at, q.Items()[0].EnqueuedAt)
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
