package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{
		Type:     EventEndpointOpened,
		Message:  "endpoint opened",
		Metadata: map[string]string{"endpoint_id": "1"},
	})

	select {
	case ev := <-sub:
		assert.Equal(t, EventEndpointOpened, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, "1", ev.Metadata["endpoint_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// Not started: nothing drains the buffer.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 250; i++ {
			b.Publish(&Event{Type: EventCopyDropped})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	assert.Equal(t, uint64(150), b.Dropped())
}

func TestUnsubscribeAndStop(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	require.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventEndpointClosed})
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	bridgeOnly := b.Subscribe(EventBridgeUp, EventBridgeDown)
	all := b.Subscribe()

	b.Publish(&Event{Type: EventBindingAdded})
	b.Publish(&Event{Type: EventBridgeUp})

	for _, want := range []EventType{EventBindingAdded, EventBridgeUp} {
		select {
		case ev := <-all:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("%s not delivered", want)
		}
	}

	select {
	case ev := <-bridgeOnly:
		assert.Equal(t, EventBridgeUp, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("bridge.up not delivered")
	}
	assert.Empty(t, bridgeOnly, "binding.added is filtered out")
}
