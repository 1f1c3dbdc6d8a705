package didexchange_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/didexchange"
	"github.com/hyperpeer/agent/invitation"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from connection.State
		evt  didexchange.Event
		to   connection.State
	}{
		{"", didexchange.EventCreateInvitation, connection.StateInvited},
		{"", didexchange.EventRequestConnection, connection.StateRequested},
		{connection.StateInvited, didexchange.EventReceiveRequest, connection.StateResponded},
		{connection.StateRequested, didexchange.EventReceiveResponse, connection.StateCompleted},
		{connection.StateResponded, didexchange.EventReceiveComplete, connection.StateCompleted},
		{connection.StateCompleted, didexchange.EventProblemReport, connection.StateAbandoned},
	}

	for _, c := range cases {
		got, err := didexchange.Transition(c.from, c.evt)
		require.NoError(t, err)
		assert.Equal(t, c.to, got)
	}
}

func TestTransitionRejectsUnexpectedMessage(t *testing.T) {
	_, err := didexchange.Transition(connection.StateCompleted, didexchange.EventReceiveRequest)
	assert.ErrorIs(t, err, didexchange.ErrNoTransition)
}

func TestAcceptableVersionPicksNewestMutual(t *testing.T) {
	inv := invitation.OutOfBandInvitation{
		HandshakeProtocols: []invitation.HandshakeProtocol{
			"https://didcomm.org/didexchange/1.0",
			"https://didcomm.org/didexchange/1.1",
		},
	}

	v, err := didexchange.AcceptableVersion(inv)
	require.NoError(t, err)
	assert.Equal(t, "1.1", v)
}

func TestAcceptableVersionFailsWithNoOverlap(t *testing.T) {
	inv := invitation.OutOfBandInvitation{
		HandshakeProtocols: []invitation.HandshakeProtocol{"https://didcomm.org/didexchange/9.9"},
	}

	_, err := didexchange.AcceptableVersion(inv)
	assert.ErrorIs(t, err, agenterr.ErrUnacceptableHandshakeVersion)
}

func TestBuildRequestAttachesReturnRouteWhenNotMediated(t *testing.T) {
	req := didexchange.BuildRequest("req-1", "inv-1", "alice-agent", "did:peer:4zOurs", "1.1", false)
	assert.Equal(t, didexchange.ReturnRouteAll, req.TransportReturnRoute)

	mediated := didexchange.BuildRequest("req-2", "inv-1", "alice-agent", "did:peer:4zOurs", "1.1", true)
	assert.Empty(t, mediated.TransportReturnRoute)
}
