// Package connectionsvc implements the Connection Service: the
// orchestrator driving the DID-Exchange state machine end to end
// (spec.md §4.5), grounded in original_source's connection_service.rs.
// request_connection there is the only transition fully implemented;
// handle_request_and_await, connect, and the process_*/send_* helpers
// are stubs. This package builds out every transition the stubs stood
// in for: receiving a Request, auto-responding, auto-completing, and
// abandoning on a protocol-visible fault.
package connectionsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/diddoc"
	"github.com/hyperpeer/agent/didexchange"
	"github.com/hyperpeer/agent/envelope"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/invitation"
	"github.com/hyperpeer/agent/logging"
	"github.com/hyperpeer/agent/messaging"
	"github.com/hyperpeer/agent/peerdid"
	"github.com/hyperpeer/agent/resolver"
	"github.com/hyperpeer/agent/walletapi"
)

// Config governs how much of the handshake the service drives
// automatically (spec.md §4.5). All three default to true.
type Config struct {
	AutoRespondToRequests bool
	AutoCompleteRequests  bool
	AutoHandleRequests    bool
}

// DefaultConfig matches the original's Default impl for
// ConnectionServiceConfig: every automation switch on.
func DefaultConfig() Config {
	return Config{AutoRespondToRequests: true, AutoCompleteRequests: true, AutoHandleRequests: true}
}

// NewID and Now are overridable in tests; production code leaves them
// at their defaults (uuid.New / time.Now).
var (
	NewID = func() string { return uuid.New().String() }
	Now   = time.Now
)

// Service orchestrates the DID-Exchange handshake. A mutex per
// connection id serializes an entire protocol turn (decode, transition,
// persist, emit) so that no two goroutines race on the same
// connection's state (spec.md §5).
type Service struct {
	Connections   *connection.Repository
	Dids          *connection.DidRepository
	Invitations   *invitation.Service
	Messaging     *messaging.Pipeline
	Resolvers     *resolver.Registry
	Wallet        walletapi.Wallet
	Bus           *events.Bus
	Config        Config
	AgentLabel    string
	AgentEndpoint string

	locks sync.Map // connection id -> *sync.Mutex
}

// NewService constructs a connection Service. dids is the DID
// repository shared with the invitation service, used both to register
// a newly minted peer DID's key-agreement key and to attribute an
// inbound envelope's recipient key back to a connection (spec.md §4.2).
// invitations lets HandleRequest recover the inviter's own DID for an
// invitation it has not seen a Request against before.
func NewService(connections *connection.Repository, dids *connection.DidRepository, invitations *invitation.Service, msg *messaging.Pipeline, resolvers *resolver.Registry, wallet walletapi.Wallet, bus *events.Bus, cfg Config, agentLabel, agentEndpoint string) *Service {
	return &Service{
		Connections:   connections,
		Dids:          dids,
		Invitations:   invitations,
		Messaging:     msg,
		Resolvers:     resolvers,
		Wallet:        wallet,
		Bus:           bus,
		Config:        cfg,
		AgentLabel:    agentLabel,
		AgentEndpoint: agentEndpoint,
	}
}

func (s *Service) lockFor(connectionID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(connectionID, &sync.Mutex{})

	return v.(*sync.Mutex)
}

func (s *Service) emitConnectionEvent(connectionID string, state connection.State) {
	s.Bus.NewBuilder(events.TypeConnection, connectionID, Now()).
		WithMetadata("state", string(state)).
		Publish()
}

// RequestConnection implements the Requested transition (spec.md
// §4.5): mint a peer DID, pick the inviter's DID from the invitation,
// negotiate a handshake version, build a Request with return_route=all
// (since this agent uses no mediator), send it, and persist a new
// ConnectionRecord. This is the one transition original_source fully
// implements (request_connection); everything below builds out what
// its sibling stub methods (process_request, send_response,
// process_response, process_complete) stood in for.
func (s *Service) RequestConnection(ctx context.Context, inv invitation.OutOfBandInvitation) (connection.Record, error) {
	if len(inv.Services) == 0 {
		return connection.Record{}, agenterr.ErrNoServiceInInvitation
	}

	inviterDid := inv.Services[0].Did

	version, err := didexchange.AcceptableVersion(inv)
	if err != nil {
		return connection.Record{}, err
	}

	ourPeerDID, _, err := peerdid.Create(s.AgentEndpoint, nil)
	if err != nil {
		return connection.Record{}, fmt.Errorf("connectionsvc: mint peer did: %w", err)
	}

	requestID := NewID()
	req := didexchange.BuildRequest(requestID, inv.ID, s.AgentLabel, ourPeerDID.Long, version, false)

	theirDoc, err := messaging.ResolveDID(ctx, s.Resolvers, inviterDid)
	if err != nil {
		return connection.Record{}, fmt.Errorf("%w: %w", agenterr.ErrDidResolution, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return connection.Record{}, fmt.Errorf("connectionsvc: marshal request: %w", err)
	}

	if err := s.registerOwnDid(ourPeerDID); err != nil {
		return connection.Record{}, err
	}

	result, err := s.Messaging.DispatchToDID(ctx, payload, ourPeerDID.Doc, theirDoc, nil)
	if err != nil {
		return connection.Record{}, err
	}

	rec := connection.Record{
		ID:           requestID,
		InvitationID: inv.ID,
		OurDid:       ourPeerDID.Long,
		TheirDid:     inviterDid,
		State:        connection.StateRequested,
	}

	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, connection.StateRequested)

	// return_route=all means the Response may arrive inline on the same
	// turn instead of as a separate inbound delivery (spec.md §4.4.1);
	// the textbook happy path (spec.md §8 scenario 2) depends on
	// processing it here rather than discarding it.
	if result.Reply != nil {
		updated, err := s.handleInlineReply(ctx, result.Reply)
		if err != nil {
			logging.FromContext(ctx).Warn("inline response handling failed", "connection_id", rec.ID, "error", err)
		} else {
			rec = updated
		}
	}

	return rec, nil
}

// registerOwnDid indexes peer's key-agreement key in the DID
// repository so a future inbound envelope addressed to it can be
// attributed back to peer.Long, and through it to a ConnectionRecord.
func (s *Service) registerOwnDid(peer peerdid.PeerDID) error {
	key, err := peer.Doc.FirstKeyAgreementKey()
	if err != nil {
		return fmt.Errorf("connectionsvc: %w", err)
	}

	if err := s.Dids.AddOrUpdate(peer.Long, connection.DidRecord{Did: peer.Long, KeyAgreementKey: key}); err != nil {
		return fmt.Errorf("connectionsvc: register did: %w", err)
	}

	return nil
}

// handleInlineReply unpacks an envelope delivered inline on the
// return-route and dispatches it the same way an out-of-band arrival at
// the inbound listener would be (spec.md §4.4.1).
func (s *Service) handleInlineReply(ctx context.Context, env walletapi.Envelope) (connection.Record, error) {
	result, err := envelope.Unpack(ctx, s.Wallet, env)
	if err != nil {
		return connection.Record{}, err
	}

	return s.HandleInboundMessage(ctx, result.Plaintext, result.RecipientKey)
}

// HandleRequest implements the Invited -> Responded transition: an
// inviter receives a Request against its own invitation and, if
// AutoRespondToRequests is set, builds and sends a Response.
func (s *Service) HandleRequest(ctx context.Context, req didexchange.Request, invitationID string) (connection.Record, error) {
	mu := s.lockFor(invitationID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := s.Connections.Get(invitationID)
	if err != nil {
		return connection.Record{}, err
	}

	if !ok {
		inv, found, err := s.Invitations.Get(invitationID)
		if err != nil {
			return connection.Record{}, err
		}

		if !found || len(inv.Services) == 0 {
			return connection.Record{}, fmt.Errorf("%w: %s", agenterr.ErrInvitationNotFound, invitationID)
		}

		rec = connection.Record{ID: invitationID, InvitationID: invitationID, OurDid: inv.Services[0].Did, State: connection.StateInvited}
	}

	next, err := didexchange.Transition(rec.State, didexchange.EventReceiveRequest)
	if err != nil {
		return s.abandon(ctx, rec, req.OurDid, didexchange.ProblemRequestNotAccepted, err)
	}

	rec.TheirDid = req.OurDid
	rec.State = next

	if !s.Config.AutoRespondToRequests {
		if err := s.Connections.AddOrUpdate(rec); err != nil {
			return connection.Record{}, err
		}

		s.emitConnectionEvent(rec.ID, rec.State)

		return rec, nil
	}

	if err := s.sendResponse(ctx, &rec, req); err != nil {
		return connection.Record{}, err
	}

	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, rec.State)

	return rec, nil
}

func (s *Service) sendResponse(ctx context.Context, rec *connection.Record, req didexchange.Request) error {
	resp := didexchange.Response{Type: didexchange.TypeResponse, ID: NewID(), ThreadID: req.ThreadID, TheirDid: rec.OurDid}

	theirDoc, err := messaging.ResolveDID(ctx, s.Resolvers, rec.TheirDid)
	if err != nil {
		return fmt.Errorf("%w: %w", agenterr.ErrDidResolution, err)
	}

	ourDoc, err := messaging.ResolveDID(ctx, s.Resolvers, rec.OurDid)
	if err != nil {
		return fmt.Errorf("%w: %w", agenterr.ErrDidResolutionPeerDid, err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("connectionsvc: marshal response: %w", err)
	}

	_, err = s.Messaging.DispatchToDID(ctx, payload, ourDoc, theirDoc, nil)

	return err
}

// HandleResponse implements the Requested -> Completed transition.
// Resolver failures while processing the Response are retried with
// exponential backoff (1s, 2s, 4s, three attempts) before the
// connection is abandoned (spec.md §4.5).
func (s *Service) HandleResponse(ctx context.Context, resp didexchange.Response, connectionID string) (connection.Record, error) {
	mu := s.lockFor(connectionID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := s.Connections.Get(connectionID)
	if err != nil {
		return connection.Record{}, err
	}

	if !ok {
		return connection.Record{}, fmt.Errorf("%w: %s", agenterr.ErrConnectionRecordNotFound, connectionID)
	}

	next, err := didexchange.Transition(rec.State, didexchange.EventReceiveResponse)
	if err != nil {
		return s.abandon(ctx, rec, resp.TheirDid, didexchange.ProblemResponseNotAccepted, err)
	}

	var theirDoc diddoc.Document

	var resolveErr error

	retryErr := retryResolve(func() error {
		doc, err := messaging.ResolveDID(ctx, s.Resolvers, resp.TheirDid)
		theirDoc = doc
		resolveErr = err

		return err
	})

	if retryErr != nil {
		return s.abandon(ctx, rec, resp.TheirDid, didexchange.ProblemAbandoned, resolveErr)
	}

	rec.TheirDid = resp.TheirDid
	rec.State = next

	if !s.Config.AutoCompleteRequests {
		if err := s.Connections.AddOrUpdate(rec); err != nil {
			return connection.Record{}, err
		}

		s.emitConnectionEvent(rec.ID, rec.State)

		return rec, nil
	}

	ourDoc, err := messaging.ResolveDID(ctx, s.Resolvers, rec.OurDid)
	if err != nil {
		return s.abandon(ctx, rec, resp.TheirDid, didexchange.ProblemAbandoned, err)
	}

	complete := didexchange.Complete{Type: didexchange.TypeComplete, ID: NewID(), ThreadID: resp.ThreadID}

	payload, err := json.Marshal(complete)
	if err != nil {
		return connection.Record{}, fmt.Errorf("connectionsvc: marshal complete: %w", err)
	}

	if _, err := s.Messaging.DispatchToDID(ctx, payload, ourDoc, theirDoc, nil); err != nil {
		return connection.Record{}, err
	}

	rec.State = connection.StateCompleted

	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, rec.State)

	return rec, nil
}

// HandleComplete implements the Responded -> Completed transition.
func (s *Service) HandleComplete(ctx context.Context, complete didexchange.Complete, connectionID string) (connection.Record, error) {
	mu := s.lockFor(connectionID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := s.Connections.Get(connectionID)
	if err != nil {
		return connection.Record{}, err
	}

	if !ok {
		return connection.Record{}, fmt.Errorf("%w: %s", agenterr.ErrConnectionRecordNotFound, connectionID)
	}

	next, err := didexchange.Transition(rec.State, didexchange.EventReceiveComplete)
	if err != nil {
		return s.abandon(ctx, rec, rec.TheirDid, didexchange.ProblemAbandoned, err)
	}

	rec.State = next
	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, rec.State)

	return rec, nil
}

// HandleProblemReport abandons the connection named by connectionID in
// response to a counterparty's ProblemReport. Unlike abandon, it never
// sends a reply: replying to an inbound ProblemReport with another one
// would loop forever.
func (s *Service) HandleProblemReport(ctx context.Context, report didexchange.ProblemReport, connectionID string) (connection.Record, error) {
	mu := s.lockFor(connectionID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := s.Connections.Get(connectionID)
	if err != nil {
		return connection.Record{}, err
	}

	if !ok {
		return connection.Record{}, fmt.Errorf("%w: %s", agenterr.ErrConnectionRecordNotFound, connectionID)
	}

	logging.FromContext(ctx).Warn("received problem report", "connection_id", rec.ID, "code", report.Code, "comment", report.Comment)

	rec.State = connection.StateAbandoned
	rec.Snapshot = []byte(report.Comment)

	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, connection.StateAbandoned)

	return rec, nil
}

// HandleInboundMessage is the single entry point an inbound transport
// listener calls with a freshly unpacked envelope: it recovers the
// DID-Exchange message type from plaintext's "@type" header, resolves
// which connection it belongs to, and dispatches to the matching
// transition. Request messages carry their own correlation (the
// invitation id, as ThreadID); every other message type is attributed
// to a connection via the DID repository's key-agreement reverse
// lookup on recipientKey (spec.md §4.2).
func (s *Service) HandleInboundMessage(ctx context.Context, plaintext []byte, recipientKey string) (connection.Record, error) {
	msgType, err := didexchange.MessageTypeOf(plaintext)
	if err != nil {
		return connection.Record{}, err
	}

	switch msgType {
	case didexchange.TypeRequest:
		var req didexchange.Request
		if err := json.Unmarshal(plaintext, &req); err != nil {
			return connection.Record{}, fmt.Errorf("connectionsvc: unmarshal request: %w", err)
		}

		return s.HandleRequest(ctx, req, req.ThreadID)

	case didexchange.TypeResponse:
		var resp didexchange.Response
		if err := json.Unmarshal(plaintext, &resp); err != nil {
			return connection.Record{}, fmt.Errorf("connectionsvc: unmarshal response: %w", err)
		}

		connectionID, err := s.connectionIDForRecipientKey(recipientKey)
		if err != nil {
			return connection.Record{}, err
		}

		return s.HandleResponse(ctx, resp, connectionID)

	case didexchange.TypeComplete:
		var complete didexchange.Complete
		if err := json.Unmarshal(plaintext, &complete); err != nil {
			return connection.Record{}, fmt.Errorf("connectionsvc: unmarshal complete: %w", err)
		}

		connectionID, err := s.connectionIDForRecipientKey(recipientKey)
		if err != nil {
			return connection.Record{}, err
		}

		return s.HandleComplete(ctx, complete, connectionID)

	case didexchange.TypeProblemReport:
		var report didexchange.ProblemReport
		if err := json.Unmarshal(plaintext, &report); err != nil {
			return connection.Record{}, fmt.Errorf("connectionsvc: unmarshal problem report: %w", err)
		}

		connectionID, err := s.connectionIDForRecipientKey(recipientKey)
		if err != nil {
			return connection.Record{}, err
		}

		return s.HandleProblemReport(ctx, report, connectionID)

	default:
		return connection.Record{}, fmt.Errorf("connectionsvc: unhandled message type %q", msgType)
	}
}

// connectionIDForRecipientKey attributes an inbound envelope's
// recipient key to the connection whose OurDid owns that key, via the
// DID repository's reverse lookup.
func (s *Service) connectionIDForRecipientKey(recipientKey string) (string, error) {
	dids, err := s.Dids.SearchByKeyAgreementKey(recipientKey)
	if err != nil {
		return "", err
	}

	for _, did := range dids {
		recs, err := s.Connections.Search(connection.TagOurDid, did.Did)
		if err != nil {
			return "", err
		}

		if len(recs) > 0 {
			return recs[0].ID, nil
		}
	}

	return "", fmt.Errorf("%w: recipient key %s", agenterr.ErrConnectionRecordNotFound, recipientKey)
}

// abandon transitions rec to Abandoned, sends a ProblemReport to
// theirDid (best-effort), persists the reason, and emits a
// ConnectionEvent. If persisting fails it returns that storage error;
// otherwise it returns the wrapped UnexpectedMessageForState error. The
// returned record is empty in both cases.
func (s *Service) abandon(ctx context.Context, rec connection.Record, theirDid string, code didexchange.ProblemCode, cause error) (connection.Record, error) {
	logging.FromContext(ctx).Warn("abandoning connection", "connection_id", rec.ID, "code", code, "error", cause)

	rec.State = connection.StateAbandoned
	rec.Snapshot = []byte(cause.Error())

	if err := s.Connections.AddOrUpdate(rec); err != nil {
		return connection.Record{}, err
	}

	s.emitConnectionEvent(rec.ID, connection.StateAbandoned)

	report := didexchange.ProblemReport{Type: didexchange.TypeProblemReport, ID: NewID(), ThreadID: rec.ID, Code: code, Comment: cause.Error()}

	if theirDid != "" {
		if theirDoc, err := messaging.ResolveDID(ctx, s.Resolvers, theirDid); err == nil {
			if ourDoc, err := messaging.ResolveDID(ctx, s.Resolvers, rec.OurDid); err == nil {
				if payload, err := json.Marshal(report); err == nil {
					_, _ = s.Messaging.DispatchToDID(ctx, payload, ourDoc, theirDoc, nil)
				}
			}
		}
	}

	return connection.Record{}, fmt.Errorf("%w: %w", agenterr.ErrUnexpectedMessageForState, cause)
}

// retryResolve retries a resolver call with exponential backoff
// (1s, 2s, 4s, three attempts), per spec.md §4.5.
func retryResolve(operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0

	return backoff.Retry(operation, backoff.WithMaxRetries(b, 3))
}
