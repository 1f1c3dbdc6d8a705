package connectionsvc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/connectionsvc"
	"github.com/hyperpeer/agent/didexchange"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/invitation"
	"github.com/hyperpeer/agent/messaging"
	"github.com/hyperpeer/agent/peerdid"
	"github.com/hyperpeer/agent/resolver"
	"github.com/hyperpeer/agent/store/memory"
	"github.com/hyperpeer/agent/transport"
	"github.com/hyperpeer/agent/walletapi"
	"github.com/hyperpeer/agent/walletapi/walletmock"
)

func newConnRepo() *connection.Repository {
	return connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())
}

func newDidRepo() *connection.DidRepository {
	return connection.NewDidRepository(memory.New[connection.DidRecord, connection.DidTagKey]())
}

func newSvc(conns *connection.Repository, dids *connection.DidRepository, invitations *invitation.Service, wallet walletapi.Wallet, reg *transport.Registry, bus *events.Bus) *connectionsvc.Service {
	pipeline := messaging.NewPipeline(conns, resolver.NewRegistry(), wallet, reg, bus)

	return connectionsvc.NewService(conns, dids, invitations, pipeline, resolver.NewRegistry(), wallet, bus, connectionsvc.DefaultConfig(), "agent-label", "https://agent.example/inbox")
}

func TestRequestConnectionPersistsRequestedStateAndRegistersOwnDid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inviterPeer, _, err := peerdid.Create(srv.URL, nil)
	require.NoError(t, err)

	conns := newConnRepo()
	dids := newDidRepo()
	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())
	svc := newSvc(conns, dids, nil, &walletmock.Wallet{}, reg, events.NewBus())

	inv := invitation.OutOfBandInvitation{
		ID:                 "inv-1",
		Services:           []invitation.Service{{Did: inviterPeer.Long}},
		HandshakeProtocols: []invitation.HandshakeProtocol{invitation.HandshakeDIDExchangeV1_1},
	}

	rec, err := svc.RequestConnection(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, connection.StateRequested, rec.State)
	assert.Equal(t, inviterPeer.Long, rec.TheirDid)

	all, err := dids.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec.OurDid, all[0].Did)
}

func TestRequestConnectionInlineResponseReachesCompleted(t *testing.T) {
	var replyBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(replyBody)
	}))
	defer srv.Close()

	inviterPeer, _, err := peerdid.Create(srv.URL, nil)
	require.NoError(t, err)

	resp := didexchange.Response{Type: didexchange.TypeResponse, ID: "resp-1", ThreadID: "inv-1", TheirDid: inviterPeer.Long}
	replyBody, err = json.Marshal(resp)
	require.NoError(t, err)

	conns := newConnRepo()
	dids := newDidRepo()

	wallet := &walletmock.Wallet{}
	wallet.UnpackFunc = func(_ context.Context, env walletapi.Envelope) (walletapi.UnpackResult, error) {
		all, err := dids.GetAll()
		if err != nil {
			return walletapi.UnpackResult{}, err
		}

		require.Len(t, all, 1)

		return walletapi.UnpackResult{Plaintext: env, RecipientKey: all[0].KeyAgreementKey}, nil
	}

	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())
	svc := newSvc(conns, dids, nil, wallet, reg, events.NewBus())

	inv := invitation.OutOfBandInvitation{
		ID:                 "inv-1",
		Services:           []invitation.Service{{Did: inviterPeer.Long}},
		HandshakeProtocols: []invitation.HandshakeProtocol{invitation.HandshakeDIDExchangeV1_1},
	}

	rec, err := svc.RequestConnection(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, connection.StateCompleted, rec.State)
}

func TestHandleRequestAutoRespondsAndReachesResponded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	requesterPeer, _, err := peerdid.Create(srv.URL, nil)
	require.NoError(t, err)

	conns := newConnRepo()
	dids := newDidRepo()
	bus := events.NewBus()

	invitations := invitation.NewService(memory.New[invitation.OutOfBandInvitation, invitation.TagKey](), dids, bus, "https://inviter.example/inbox", "inviter-agent")

	inv, invPeerDID, err := invitations.CreateInvitation()
	require.NoError(t, err)

	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())
	svc := newSvc(conns, dids, invitations, &walletmock.Wallet{}, reg, bus)

	req := didexchange.BuildRequest("req-1", inv.ID, "requester-agent", requesterPeer.Long, "1.1", false)

	rec, err := svc.HandleRequest(context.Background(), req, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, connection.StateResponded, rec.State)
	assert.Equal(t, invPeerDID.Long, rec.OurDid)
	assert.Equal(t, requesterPeer.Long, rec.TheirDid)
}

func TestHandleRequestAbandonsOnInvalidTransition(t *testing.T) {
	conns := newConnRepo()
	bus := events.NewBus()

	require.NoError(t, conns.AddOrUpdate(connection.Record{
		ID: "inv-1", InvitationID: "inv-1", OurDid: "did:peer:4zOurs", State: connection.StateCompleted,
	}))

	svc := newSvc(conns, newDidRepo(), nil, &walletmock.Wallet{}, transport.NewRegistry(), bus)

	req := didexchange.Request{Type: didexchange.TypeRequest, ID: "req-1", ThreadID: "inv-1", OurDid: "did:peer:4zTheirs"}

	_, err := svc.HandleRequest(context.Background(), req, "inv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrUnexpectedMessageForState)

	rec, ok, err := conns.Get("inv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, connection.StateAbandoned, rec.State)
}

func TestHandleCompleteTransitionsToCompleted(t *testing.T) {
	conns := newConnRepo()
	bus := events.NewBus()

	require.NoError(t, conns.AddOrUpdate(connection.Record{
		ID: "conn-1", OurDid: "did:peer:4zOurs", TheirDid: "did:peer:4zTheirs", State: connection.StateResponded,
	}))

	svc := newSvc(conns, newDidRepo(), nil, &walletmock.Wallet{}, transport.NewRegistry(), bus)

	complete := didexchange.Complete{Type: didexchange.TypeComplete, ID: "msg-1", ThreadID: "thread-1"}

	rec, err := svc.HandleComplete(context.Background(), complete, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, connection.StateCompleted, rec.State)
}

func TestHandleProblemReportAbandonsExistingRecordWithoutReplying(t *testing.T) {
	conns := newConnRepo()
	bus := events.NewBus()

	require.NoError(t, conns.AddOrUpdate(connection.Record{
		ID: "conn-1", OurDid: "did:peer:4zOurs", State: connection.StateRequested,
	}))

	svc := newSvc(conns, newDidRepo(), nil, &walletmock.Wallet{}, transport.NewRegistry(), bus)

	report := didexchange.ProblemReport{
		Type: didexchange.TypeProblemReport, ID: "msg-1", ThreadID: "conn-1",
		Code: didexchange.ProblemAbandoned, Comment: "counterparty abandoned",
	}

	rec, err := svc.HandleProblemReport(context.Background(), report, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, connection.StateAbandoned, rec.State)
}

func TestHandleInboundMessageRejectsPayloadWithNoType(t *testing.T) {
	svc := newSvc(newConnRepo(), newDidRepo(), nil, &walletmock.Wallet{}, transport.NewRegistry(), events.NewBus())

	_, err := svc.HandleInboundMessage(context.Background(), []byte(`{"hello":"world"}`), "some-key")
	assert.ErrorIs(t, err, didexchange.ErrNoMessageType)
}

func TestHandleInboundMessageResponseWithUnattributedRecipientKeyFails(t *testing.T) {
	svc := newSvc(newConnRepo(), newDidRepo(), nil, &walletmock.Wallet{}, transport.NewRegistry(), events.NewBus())

	resp := didexchange.Response{Type: didexchange.TypeResponse, ID: "resp-1", ThreadID: "thread-1", TheirDid: "did:peer:4zTheirs"}

	payload, err := json.Marshal(resp)
	require.NoError(t, err)

	_, err = svc.HandleInboundMessage(context.Background(), payload, "unknown-key")
	assert.ErrorIs(t, err, agenterr.ErrConnectionRecordNotFound)
}
