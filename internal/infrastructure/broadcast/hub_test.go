package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/domain/session"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
)

func newTestHub(t *testing.T, heartbeat time.Duration) (*Hub, *eventlog.Log, uuid.UUID) {
	t.Helper()
	log := eventlog.New()
	id := uuid.New()
	log.Register(id)
	return NewHub(log, heartbeat, zerolog.Nop()), log, id
}

func appendN(t *testing.T, log *eventlog.Log, id uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := log.Append(id, event.TypeUtterance, []byte(`{}`))
		require.NoError(t, err)
	}
}

func collectEvents(t *testing.T, sub *Subscription, n int) []int64 {
	t.Helper()
	seqs := make([]int64, 0, n)
	for len(seqs) < n {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(seqs), n)
			}
			if msg.Heartbeat {
				continue
			}
			seqs = append(seqs, msg.Event.SequenceNo)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(seqs), n)
		}
	}
	return seqs
}

func TestHub_Subscribe_UnknownSession(t *testing.T) {
	hub, _, _ := newTestHub(t, time.Minute)
	_, err := hub.Subscribe(context.Background(), uuid.New(), "c1", 0)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHub_Subscribe_GapReplayThenLive(t *testing.T) {
	hub, log, id := newTestHub(t, time.Minute)
	appendN(t, log, id, 5)

	// Reconnect after having seen sequence 2.
	sub, err := hub.Subscribe(context.Background(), id, "c1", 2)
	require.NoError(t, err)
	defer hub.Unsubscribe(sub)

	assert.Equal(t, []int64{3, 4, 5}, collectEvents(t, sub, 3))

	appendN(t, log, id, 1)
	assert.Equal(t, []int64{6}, collectEvents(t, sub, 1))
}

func TestHub_MidSessionObserverSeesEverything(t *testing.T) {
	hub, log, id := newTestHub(t, time.Minute)
	appendN(t, log, id, 3)

	early, err := hub.Subscribe(context.Background(), id, "early", 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(early)

	late, err := hub.Subscribe(context.Background(), id, "late", 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(late)

	appendN(t, log, id, 2)

	want := []int64{1, 2, 3, 4, 5}
	assert.Equal(t, want, collectEvents(t, early, 5))
	assert.Equal(t, want, collectEvents(t, late, 5))
}

func TestHub_SlowObserverDoesNotBlockOthers(t *testing.T) {
	hub, log, id := newTestHub(t, time.Minute)

	// Never read from this one.
	slow, err := hub.Subscribe(context.Background(), id, "slow", 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(slow)

	fast, err := hub.Subscribe(context.Background(), id, "fast", 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(fast)

	// Write well past the slow observer's buffer.
	total := subscriptionBuffer * 3
	appendN(t, log, id, total)

	seqs := collectEvents(t, fast, total)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestHub_ObserverCount(t *testing.T) {
	hub, _, id := newTestHub(t, time.Minute)
	assert.Zero(t, hub.ObserverCount(id))

	sub1, err := hub.Subscribe(context.Background(), id, "c1", 0)
	require.NoError(t, err)
	sub2, err := hub.Subscribe(context.Background(), id, "c2", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.ObserverCount(id))

	hub.Unsubscribe(sub1)
	require.Eventually(t, func() bool { return hub.ObserverCount(id) == 1 }, time.Second, 5*time.Millisecond)
	hub.Unsubscribe(sub2)
	require.Eventually(t, func() bool { return hub.ObserverCount(id) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SameClientIDReplacesSubscription(t *testing.T) {
	hub, _, id := newTestHub(t, time.Minute)

	old, err := hub.Subscribe(context.Background(), id, "c1", 0)
	require.NoError(t, err)
	_, err = hub.Subscribe(context.Background(), id, "c1", 0)
	require.NoError(t, err)

	select {
	case _, ok := <-old.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("replaced subscription was not closed")
	}
	assert.Equal(t, 1, hub.ObserverCount(id))
}

func TestHub_CloseSessionTearsDownObservers(t *testing.T) {
	hub, _, id := newTestHub(t, time.Minute)

	sub, err := hub.Subscribe(context.Background(), id, "c1", 0)
	require.NoError(t, err)

	hub.CloseSession(id)

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription survived session teardown")
	}
	assert.Zero(t, hub.ObserverCount(id))
}

func TestHub_HeartbeatOnIdleConnection(t *testing.T) {
	hub, _, id := newTestHub(t, 20*time.Millisecond)

	sub, err := hub.Subscribe(context.Background(), id, "c1", 0)
	require.NoError(t, err)
	defer hub.Unsubscribe(sub)

	select {
	case msg := <-sub.Messages():
		assert.True(t, msg.Heartbeat)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat on idle connection")
	}
}
