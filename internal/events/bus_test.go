package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/contexthub/internal/store"
)

func TestPublishDeliversToTypedSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := Subscribe[ContextChanged](bus, 1)
	defer unsub()

	evt := ContextChanged{
		Ref:    store.Ref{Level: store.LevelTask, ID: "t1"},
		Action: "update",
	}
	require.NoError(t, bus.Publish(t.Context(), evt))

	select {
	case got := <-ch:
		assert.Equal(t, "t1", got.Ref.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishSkipsOtherEventTypes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := Subscribe[BatchFlushed](bus, 1)
	defer unsub()

	require.NoError(t, bus.Publish(t.Context(), ContextChanged{Action: "create"}))

	select {
	case <-ch:
		t.Fatal("unexpected delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishBlocksUntilCanceled(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Unbuffered subscriber that never reads.
	_, unsub := Subscribe[ContextChanged](bus, 0)
	defer unsub()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := bus.Publish(ctx, ContextChanged{Action: "update"})
	require.Error(t, err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, unsub := Subscribe[ContextChanged](bus, 1)
	assert.Equal(t, 1, SubscriberCount[ContextChanged](bus))
	unsub()
	assert.Equal(t, 0, SubscriberCount[ContextChanged](bus))

	require.NoError(t, bus.Publish(t.Context(), ContextChanged{Action: "update"}))
}

func TestCloseClosesSubscriptionChannels(t *testing.T) {
	bus := NewBus()
	ch, _ := Subscribe[ContextChanged](bus, 1)

	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	err := bus.Publish(context.Background(), ContextChanged{})
	require.Error(t, err)
}
