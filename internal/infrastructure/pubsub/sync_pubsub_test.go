package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, ch *SyncEventChannel) *SyncEvent {
	t.Helper()
	select {
	case ev := <-ch.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sync event")
		return nil
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	ps := NewSyncPubSub(zerolog.Nop())
	ch := ps.Subscribe(context.Background(), nil)
	defer ps.Unsubscribe(ch.ID)

	ps.Publish(&SyncEvent{ConnectionID: "conn-1", Stage: StagePageFetched, Page: 1})

	ev := receiveEvent(t, ch)
	assert.Equal(t, "conn-1", ev.ConnectionID)
	assert.Equal(t, StagePageFetched, ev.Stage)
}

func TestFilterByConnectionAndStage(t *testing.T) {
	ps := NewSyncPubSub(zerolog.Nop())
	ch := ps.Subscribe(context.Background(), &SyncEventFilter{
		ConnectionID: "conn-1",
		Stages:       []SyncEventStage{StageCompleted},
	})
	defer ps.Unsubscribe(ch.ID)

	ps.Publish(&SyncEvent{ConnectionID: "conn-2", Stage: StageCompleted})
	ps.Publish(&SyncEvent{ConnectionID: "conn-1", Stage: StagePageFetched})
	ps.Publish(&SyncEvent{ConnectionID: "conn-1", Stage: StageCompleted})

	ev := receiveEvent(t, ch)
	assert.Equal(t, "conn-1", ev.ConnectionID)
	assert.Equal(t, StageCompleted, ev.Stage)
	assert.Empty(t, ch.Events)
}

func TestPublishNeverBlocks(t *testing.T) {
	ps := NewSyncPubSub(zerolog.Nop())
	ch := ps.Subscribe(context.Background(), nil)
	defer ps.Unsubscribe(ch.ID)

	// Overfill the buffer without any reader; Publish must drop, not hang.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			ps.Publish(&SyncEvent{ConnectionID: "conn-1", Stage: StagePageFetched, Page: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ps := NewSyncPubSub(zerolog.Nop())
	ch := ps.Subscribe(context.Background(), nil)

	ps.Unsubscribe(ch.ID)

	_, open := <-ch.Events
	require.False(t, open)

	// Idempotent.
	ps.Unsubscribe(ch.ID)
}
