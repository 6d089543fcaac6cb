package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest() *Request {
	return newRequest(Payload{Text: "hello"}, nil)
}

func TestQueueAdmitSingleRequestDrainsImmediately(t *testing.T) {
	q := NewQueue(4)
	r := newTestRequest()
	require.NoError(t, q.Admit(r))

	batch := q.Drain(8, 50*time.Millisecond)
	require.Len(t, batch, 1)
	assert.Equal(t, r.ID, batch[0].ID)
}

func TestQueueAdmitRejectsAtCapacity(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Admit(newTestRequest()))
	require.NoError(t, q.Admit(newTestRequest()))

	err := q.Admit(newTestRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)

	m := q.Metrics()
	assert.Equal(t, int64(2), m.Admitted)
	assert.Equal(t, int64(1), m.Rejected)
}

func TestQueueDrainCoalescesBurst(t *testing.T) {
	q := NewQueue(16)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Admit(newTestRequest()))
	}

	batch := q.Drain(8, 50*time.Millisecond)
	assert.Len(t, batch, 5)
}

func TestQueueDrainRespectsMaxBatch(t *testing.T) {
	q := NewQueue(16)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Admit(newTestRequest()))
	}

	batch := q.Drain(4, 50*time.Millisecond)
	assert.Len(t, batch, 4)
	assert.Equal(t, 6, q.Depth())
}

func TestQueueDrainTimesOutWhenEmpty(t *testing.T) {
	q := NewQueue(4)
	start := time.Now()
	batch := q.Drain(8, 20*time.Millisecond)
	elapsed := time.Since(start)

	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Equal(t, int64(1), q.Metrics().DrainTimeouts)
}

func TestQueueDrainWakesOnLateArrival(t *testing.T) {
	q := NewQueue(4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Admit(newTestRequest())
	}()

	batch := q.Drain(8, 200*time.Millisecond)
	assert.Len(t, batch, 1)
}

func TestQueuePreservesFIFOOrder(t *testing.T) {
	q := NewQueue(16)
	var ids []string
	for i := 0; i < 6; i++ {
		r := newTestRequest()
		ids = append(ids, r.ID.String())
		require.NoError(t, q.Admit(r))
	}

	batch := q.Drain(16, 50*time.Millisecond)
	require.Len(t, batch, 6)
	for i, r := range batch {
		assert.Equal(t, ids[i], r.ID.String())
	}
}

func TestQueueDrainAllEmptiesQueue(t *testing.T) {
	q := NewQueue(16)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Admit(newTestRequest()))
	}

	batch := q.DrainAll()
	assert.Len(t, batch, 3)
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.DrainAll())
}
