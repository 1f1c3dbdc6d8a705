package invitation_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/invitation"
	"github.com/hyperpeer/agent/store/memory"
)

func newService(t *testing.T) (*invitation.Service, *events.Bus) {
	t.Helper()

	bus := events.NewBus()
	dids := connection.NewDidRepository(memory.New[connection.DidRecord, connection.DidTagKey]())
	svc := invitation.NewService(memory.New[invitation.OutOfBandInvitation, invitation.TagKey](), dids, bus, "https://agent.example/inbox", "alice-agent")

	return svc, bus
}

func TestCreateInvitationEmitsCreatedEvent(t *testing.T) {
	svc, bus := newService(t)

	_, ch := bus.Subscribe()

	inv, peerDID, err := svc.CreateInvitation()
	require.NoError(t, err)
	assert.Equal(t, peerDID.Short, inv.ID)
	require.Len(t, inv.Services, 1)
	require.Len(t, inv.HandshakeProtocols, 1)

	evt := <-ch
	assert.Equal(t, events.TypeInvitation, evt.Type)
	assert.Equal(t, "created", evt.Metadata["state"])
	assert.Equal(t, inv.ID, evt.Metadata["invitation_id"])
}

func TestInvitationRoundTrip(t *testing.T) {
	a, _ := newService(t)
	b, _ := newService(t)

	created, _, err := a.CreateInvitation()
	require.NoError(t, err)

	require.NoError(t, b.ReceiveInvitation(created))

	stored, ok, err := b.Get(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, stored.ID)
}

func TestReceiveInvitationDuplicateIsIdempotentNoSecondEvent(t *testing.T) {
	b, bus := newService(t)

	inv := invitation.OutOfBandInvitation{
		ID:                 "inv-1",
		Services:           []invitation.Service{{Did: "did:peer:4zSomething"}},
		HandshakeProtocols: []invitation.HandshakeProtocol{invitation.HandshakeDIDExchangeV1_1},
	}

	_, ch := bus.Subscribe()

	require.NoError(t, b.ReceiveInvitation(inv))
	<-ch

	require.NoError(t, b.ReceiveInvitation(inv))

	select {
	case <-ch:
		t.Fatal("duplicate receipt should not emit a second event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInvitationJSONRoundTripAcrossWire(t *testing.T) {
	a, _ := newService(t)
	b, _ := newService(t)

	created, _, err := a.CreateInvitation()
	require.NoError(t, err)

	wire, err := json.Marshal(created)
	require.NoError(t, err)
	assert.Contains(t, string(wire), `"handshake_protocols"`)

	var received invitation.OutOfBandInvitation
	require.NoError(t, json.Unmarshal(wire, &received))
	assert.Equal(t, created, received)

	require.NoError(t, b.ReceiveInvitation(received))

	stored, ok, err := b.Get(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, stored.ID)
}

func TestReceiveInvitationRejectsMissingService(t *testing.T) {
	b, _ := newService(t)

	err := b.ReceiveInvitation(invitation.OutOfBandInvitation{
		ID:                 "inv-2",
		HandshakeProtocols: []invitation.HandshakeProtocol{invitation.HandshakeDIDExchangeV1_1},
	})
	assert.ErrorIs(t, err, invitation.ErrNoResolvableService)
}
