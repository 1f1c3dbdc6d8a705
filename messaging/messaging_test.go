package messaging_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/messaging"
	"github.com/hyperpeer/agent/peerdid"
	"github.com/hyperpeer/agent/resolver"
	"github.com/hyperpeer/agent/store/memory"
	"github.com/hyperpeer/agent/transport"
	"github.com/hyperpeer/agent/walletapi/walletmock"
)

func newConnections(t *testing.T) *connection.Repository {
	t.Helper()

	return connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())
}

func TestSendMessageUnknownConnectionFails(t *testing.T) {
	conns := newConnections(t)
	bus := events.NewBus()

	pipeline := messaging.NewPipeline(conns, resolver.NewRegistry(), &walletmock.Wallet{}, transport.NewRegistry(), bus)

	_, ch := bus.Subscribe()

	err := pipeline.SendMessage(context.Background(), []byte("hi"), "missing", nil)
	assert.ErrorIs(t, err, agenterr.ErrConnectionRecordNotFound)

	select {
	case <-ch:
		t.Fatal("no event should have been emitted")
	default:
	}
}

func TestSendMessageSchemeMismatchFails(t *testing.T) {
	conns := newConnections(t)

	ourPeer, _, err := peerdid.Create("https://our.example/inbox", nil)
	require.NoError(t, err)

	theirPeer, _, err := peerdid.Create("wss://their.example/inbox", nil)
	require.NoError(t, err)

	require.NoError(t, conns.AddOrUpdate(connection.Record{
		ID: "conn-1", OurDid: ourPeer.Long, TheirDid: theirPeer.Long, State: connection.StateCompleted,
	}))

	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())
	pipeline := messaging.NewPipeline(conns, resolver.NewRegistry(), &walletmock.Wallet{}, reg, events.NewBus())

	err = pipeline.SendMessage(context.Background(), []byte("hi"), "conn-1", nil)
	assert.ErrorIs(t, err, agenterr.ErrOutboundTransportError)
}

func TestSendMessageReturnRouteReplyEmitsInboundEvent(t *testing.T) {
	conns := newConnections(t)

	ourPeer, _, err := peerdid.Create("https://our.example/inbox", nil)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("anon:reply-payload"))
	}))
	defer srv.Close()

	theirPeer, _, err := peerdid.Create(srv.URL, nil)
	require.NoError(t, err)

	require.NoError(t, conns.AddOrUpdate(connection.Record{
		ID: "conn-1", OurDid: ourPeer.Long, TheirDid: theirPeer.Long, State: connection.StateRequested,
	}))

	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())
	bus := events.NewBus()
	_, ch := bus.Subscribe()

	pipeline := messaging.NewPipeline(conns, resolver.NewRegistry(), &walletmock.Wallet{}, reg, bus)

	require.NoError(t, pipeline.SendMessage(context.Background(), []byte("hi"), "conn-1", nil))

	first := <-ch
	assert.Equal(t, events.TypeOutboundMessage, first.Type)

	second := <-ch
	assert.Equal(t, events.TypeInboundMessage, second.Type)
}
