// Package messaging implements the send/receive pipeline (spec.md
// §4.4), grounded in original_source's messaging_service.rs: resolve
// both DIDs, emit an OutboundMessage event, then select a DIDComm v1
// service, pack, dispatch through the transport registry, and — if the
// counterparty answered inline on the same connection — run the receive
// path immediately. The OutboundMessage event is published before the
// message is packed, so it carries only the two DIDs, not the plaintext
// or the envelope.
package messaging

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/diddoc"
	"github.com/hyperpeer/agent/envelope"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/logging"
	"github.com/hyperpeer/agent/peerdid"
	"github.com/hyperpeer/agent/resolver"
	"github.com/hyperpeer/agent/transport"
	"github.com/hyperpeer/agent/walletapi"
)

// Now is overridable in tests; defaults to time.Now so production code
// never has to thread a clock through.
var Now = time.Now

// Pipeline wires the collaborators the send/receive path depends on.
type Pipeline struct {
	Connections *connection.Repository
	Resolvers   *resolver.Registry
	Wallet      walletapi.Wallet
	Transports  *transport.Registry
	Bus         *events.Bus
}

// NewPipeline constructs a messaging Pipeline.
func NewPipeline(connections *connection.Repository, resolvers *resolver.Registry, wallet walletapi.Wallet, transports *transport.Registry, bus *events.Bus) *Pipeline {
	return &Pipeline{
		Connections: connections,
		Resolvers:   resolvers,
		Wallet:      wallet,
		Transports:  transports,
		Bus:         bus,
	}
}

// ResolveDID resolves a DID document, using the local numalgo-4
// derivation for peer DIDs and the resolver registry for everything
// else, since peer DIDs never require network resolution (spec.md
// §4.4 step 3). Exported so the connection service's protocol-message
// dispatch (which runs before any ConnectionRecord exists) can reuse
// the same resolution logic as application messaging.
func ResolveDID(ctx context.Context, resolvers *resolver.Registry, did string) (diddoc.Document, error) {
	if strings.HasPrefix(did, peerdid.Prefix) {
		return peerdid.Resolve(did)
	}

	doc, _, err := resolvers.Resolve(ctx, did)

	return doc, err
}

// DispatchResult reports what happened when DispatchToDID attempted
// delivery: which service endpoint it reached, and any inline reply.
type DispatchResult struct {
	Service diddoc.Service
	Reply   walletapi.Envelope
}

// DispatchToDID packs plaintext from ourDoc to theirDoc and dispatches
// it through the transport registry, iterating order (or
// transport.PreferredOrder if empty) over theirDoc's DIDCommV1
// services until one succeeds (spec.md §4.4.2). It does not require a
// persisted ConnectionRecord, so the connection service can use it to
// send the initial DID-Exchange Request before any record exists.
func (p *Pipeline) DispatchToDID(ctx context.Context, plaintext []byte, ourDoc, theirDoc diddoc.Document, order []transport.Scheme) (DispatchResult, error) {
	candidates := theirDoc.DIDCommV1Services()
	if len(candidates) == 0 {
		return DispatchResult{}, fmt.Errorf("%w: %s", agenterr.ErrInvalidDidDocService, theirDoc.ID)
	}

	if len(order) == 0 {
		order = transport.PreferredOrder
	}

	for _, scheme := range order {
		for _, svc := range candidates {
			endpoint, err := url.Parse(svc.ServiceEndpoint)
			if err != nil {
				continue
			}

			svcScheme, err := transport.SchemeOf(endpoint.Scheme)
			if err != nil || svcScheme != scheme {
				continue
			}

			env, err := envelope.Pack(ctx, p.Wallet, plaintext, ourDoc, theirDoc, svc.ID)
			if err != nil {
				return DispatchResult{}, err
			}

			reply, err := p.Transports.Send(ctx, endpoint, env)
			if err != nil {
				continue
			}

			return DispatchResult{Service: svc, Reply: reply}, nil
		}
	}

	return DispatchResult{}, fmt.Errorf("%w: %s", agenterr.ErrOutboundTransportError, theirDoc.ID)
}

// SendMessage packs and dispatches plaintext over the connection
// identified by connectionID. preferredTransports, if non-empty,
// overrides the default [WS, HTTP] iteration order (spec.md §4.4.2).
func (p *Pipeline) SendMessage(ctx context.Context, plaintext []byte, connectionID string, preferredTransports []transport.Scheme) error {
	conn, ok, err := p.Connections.Get(connectionID)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", agenterr.ErrConnectionRecordNotFound, connectionID)
	}

	theirDoc, err := ResolveDID(ctx, p.Resolvers, conn.TheirDid)
	if err != nil {
		return fmt.Errorf("%w: %w", agenterr.ErrDidResolution, err)
	}

	ourDoc, err := ResolveDID(ctx, p.Resolvers, conn.OurDid)
	if err != nil {
		return fmt.Errorf("%w: %w", agenterr.ErrDidResolutionPeerDid, err)
	}

	p.Bus.NewBuilder(events.TypeOutboundMessage, connectionID, Now()).
		WithMetadata("our_did", conn.OurDid).
		WithMetadata("their_did", conn.TheirDid).
		Publish()

	result, err := p.DispatchToDID(ctx, plaintext, ourDoc, theirDoc, preferredTransports)
	if err != nil {
		return err
	}

	if result.Reply != nil {
		return p.HandleInboundEnvelope(ctx, connectionID, result.Reply, false)
	}

	return nil
}

// HandleInboundEnvelope runs the receive path (spec.md §4.4.1): unpack,
// emit InboundMessage, and — if the reply was unsolicited (not the
// result of our own return-route request) — log it. No problem report
// is built or queued for a later outbound turn. advertisedReturnRoute is
// true when the outbound message that produced this reply requested
// return_route=all.
func (p *Pipeline) HandleInboundEnvelope(ctx context.Context, connectionID string, env walletapi.Envelope, advertisedReturnRoute bool) error {
	result, err := envelope.Unpack(ctx, p.Wallet, env)
	if err != nil {
		return err
	}

	p.Bus.NewBuilder(events.TypeInboundMessage, connectionID, Now()).
		WithMetadata("sender_key", result.SenderKey).
		WithMetadata("recipient_key", result.RecipientKey).
		Publish()

	if !advertisedReturnRoute {
		logUnexpectedReply(ctx, connectionID, result)
	}

	return nil
}

// logUnexpectedReply logs a reply received on a turn that never
// advertised return_route=all: original_source leaves
// receive_inbound_message as a stub (two TODOs) for exactly this case.
// It only logs, at error level when the sender cannot be attributed and
// at warn level otherwise; no problem report is queued here or by the
// connection service.
func logUnexpectedReply(ctx context.Context, connectionID string, result walletapi.UnpackResult) {
	logger := logging.FromContext(ctx)

	if result.SenderKey == "" {
		logger.Error("received unexpected inline reply with no sender key to attribute", "connection_id", connectionID)

		return
	}

	logger.Warn("received unexpected inline reply; problem report should be queued for next outbound turn",
		"connection_id", connectionID, "sender_key", result.SenderKey)
}
