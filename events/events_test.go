package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/events"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus()

	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.NewBuilder(events.TypeConnection, "conn-1", time.Unix(0, 0)).
		WithMetadata("state", "completed").
		Publish()

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeConnection, evt.Type)
		assert.Equal(t, "conn-1", evt.ConnectionID)
		assert.Equal(t, "completed", evt.Metadata["state"])
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestOrderingPerSubscriber(t *testing.T) {
	bus := events.NewBus()

	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.NewBuilder(events.TypeConnection, "conn-1", time.Unix(0, 0)).WithMetadata("state", "requested").Publish()
	bus.NewBuilder(events.TypeConnection, "conn-1", time.Unix(0, 0)).WithMetadata("state", "completed").Publish()

	first := <-ch
	second := <-ch

	assert.Equal(t, "requested", first.Metadata["state"])
	assert.Equal(t, "completed", second.Metadata["state"])
}

func TestUnsubscribeIsIdempotentAndPrunesOnNextPublish(t *testing.T) {
	bus := events.NewBus()

	id, _ := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(id)
	bus.Unsubscribe(id)

	bus.Publish(events.NewEvent(events.TypeInvitation, "", time.Unix(0, 0)))
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSlowConsumerDoesNotBlockPublish(t *testing.T) {
	bus := events.NewBusWithBuffer(1)

	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.Publish(events.NewEvent(events.TypeInboundMessage, "conn-1", time.Unix(0, 0)))
	bus.Publish(events.NewEvent(events.TypeInboundMessage, "conn-1", time.Unix(0, 0)))

	require.Len(t, ch, 1)
}
