// Package invitation implements the out-of-band invitation service
// (spec.md §4.7), grounded in original_source's invitation_service.rs.
// create_invitation there is fully implemented (mint a peer DID, wrap
// it as an OOB service, advertise did-exchange/1.1) but never persists
// the invitation (a TODO) and never emits more than a bare "created"
// InvitationEvent; receive_invitation is commented out entirely. This
// package completes both: invitations are persisted for idempotent
// receipt, and receive_invitation validates structure before storing.
package invitation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/peerdid"
	"github.com/hyperpeer/agent/store"
)

// HandshakeProtocol identifies a supported DID-Exchange protocol
// version an invitation advertises.
type HandshakeProtocol string

const (
	HandshakeDIDExchangeV1_1 HandshakeProtocol = "https://didcomm.org/didexchange/1.1"
)

// ErrNoResolvableService is returned when an invitation advertises no
// service reference usable to start a handshake.
var ErrNoResolvableService = errors.New("invitation: no resolvable service in invitation")

// ErrNoHandshakeProtocol is returned when an invitation advertises no
// handshake protocol.
var ErrNoHandshakeProtocol = errors.New("invitation: no handshake protocol advertised")

// Service is either a bare DID reference or an inline service block,
// matching the original's OobService::Did / inline variants.
type Service struct {
	// Did is set when the service is a DID reference; Inline is set
	// when the invitation embeds the service block directly. Exactly
	// one of the two is populated.
	Did    string
	Inline *InlineService
}

// InlineService is a self-contained service block embedded directly in
// an invitation, avoiding a resolution round trip.
type InlineService struct {
	ID              string   `json:"id"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
}

// MarshalJSON renders a DID-reference service as a bare string and an
// inline service as its object, matching the OOB v1.1 wire format's
// `services` entries (spec.md §6).
func (s Service) MarshalJSON() ([]byte, error) {
	if s.Inline != nil {
		return json.Marshal(s.Inline)
	}

	return json.Marshal(s.Did)
}

// UnmarshalJSON accepts either a bare DID string or an inline service
// object, the inverse of MarshalJSON.
func (s *Service) UnmarshalJSON(data []byte) error {
	var did string
	if err := json.Unmarshal(data, &did); err == nil {
		*s = Service{Did: did}

		return nil
	}

	var inline InlineService
	if err := json.Unmarshal(data, &inline); err != nil {
		return fmt.Errorf("invitation: unmarshal service: %w", err)
	}

	*s = Service{Inline: &inline}

	return nil
}

// OutOfBandInvitation is the OOB invitation document (spec.md §3),
// field names following the agreed OOB v1.1 wire shape (spec.md §6).
type OutOfBandInvitation struct {
	ID                 string              `json:"id"`
	Services           []Service           `json:"services"`
	HandshakeProtocols []HandshakeProtocol `json:"handshake_protocols"`
}

// Validate checks the invariants spec.md §3 requires: at least one
// service, at least one handshake protocol.
func (inv OutOfBandInvitation) Validate() error {
	if len(inv.Services) == 0 {
		return ErrNoResolvableService
	}

	if len(inv.HandshakeProtocols) == 0 {
		return ErrNoHandshakeProtocol
	}

	return nil
}

// TagKey is a placeholder tag-key enumeration: invitations are looked
// up only by id (idempotent receipt), so no secondary index is needed.
type TagKey int

// Now is overridable in tests.
var Now = time.Now

// Service orchestrates invitation creation/receipt and persistence.
type Service struct {
	store       store.Backend[OutOfBandInvitation, TagKey]
	dids        *connection.DidRepository
	bus         *events.Bus
	agentLabel  string
	endpointURL string
}

// NewService constructs an invitation Service. endpointURL is the
// agent's public endpoint, minted into every created invitation's peer
// DID; agentLabel is the human-readable label attached to requests
// built from this invitation downstream. dids is the DID repository a
// created invitation's own peer DID is registered into, so an inbound
// Request's recipient key can later be attributed back to it (spec.md
// §4.2).
func NewService(backend store.Backend[OutOfBandInvitation, TagKey], dids *connection.DidRepository, bus *events.Bus, endpointURL, agentLabel string) *Service {
	return &Service{store: backend, dids: dids, bus: bus, endpointURL: endpointURL, agentLabel: agentLabel}
}

// CreateInvitation mints a fresh peer DID (numalgo-4, zero routing
// keys, encoding the agent's endpoint), wraps it as a DID-reference
// service, advertises did-exchange/1.1, registers the minted DID's
// key-agreement key for inbound attribution, persists the invitation,
// and emits an InvitationEvent{state: "created"}.
func (s *Service) CreateInvitation() (OutOfBandInvitation, peerdid.PeerDID, error) {
	peerDID, _, err := peerdid.Create(s.endpointURL, nil)
	if err != nil {
		return OutOfBandInvitation{}, peerdid.PeerDID{}, fmt.Errorf("invitation: mint peer did: %w", err)
	}

	keyAgreementKey, err := peerDID.Doc.FirstKeyAgreementKey()
	if err != nil {
		return OutOfBandInvitation{}, peerdid.PeerDID{}, fmt.Errorf("invitation: %w", err)
	}

	if err := s.dids.AddOrUpdate(peerDID.Long, connection.DidRecord{Did: peerDID.Long, KeyAgreementKey: keyAgreementKey}); err != nil {
		return OutOfBandInvitation{}, peerdid.PeerDID{}, fmt.Errorf("invitation: register did: %w", err)
	}

	inv := OutOfBandInvitation{
		ID:                 peerDID.Short,
		Services:           []Service{{Did: peerDID.Long}},
		HandshakeProtocols: []HandshakeProtocol{HandshakeDIDExchangeV1_1},
	}

	rec := store.NewRecord[OutOfBandInvitation, TagKey](inv.ID, inv, nil)
	if err := s.store.AddOrUpdate(rec); err != nil {
		return OutOfBandInvitation{}, peerdid.PeerDID{}, store.WrapError("invitation add_or_update", inv.ID, err)
	}

	s.bus.NewBuilder(events.TypeInvitation, "", Now()).
		WithMetadata("state", "created").
		WithMetadata("invitation_id", inv.ID).
		Publish()

	return inv, peerDID, nil
}

// ReceiveInvitation parses, validates, and persists an invitation
// received from a counterparty. Receiving the same invitation id twice
// is idempotent: the second call succeeds without emitting a second
// event or overwriting the first persisted copy.
func (s *Service) ReceiveInvitation(inv OutOfBandInvitation) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	_, exists, err := s.store.Get(inv.ID)
	if err != nil {
		return store.WrapError("invitation get", inv.ID, err)
	}

	if exists {
		return nil
	}

	rec := store.NewRecord[OutOfBandInvitation, TagKey](inv.ID, inv, nil)
	if err := s.store.Add(rec); err != nil {
		return store.WrapError("invitation add", inv.ID, err)
	}

	s.bus.NewBuilder(events.TypeInvitation, "", Now()).
		WithMetadata("state", "received").
		WithMetadata("invitation_id", inv.ID).
		Publish()

	return nil
}

// Get returns a persisted invitation by id.
func (s *Service) Get(id string) (OutOfBandInvitation, bool, error) {
	rec, ok, err := s.store.Get(id)
	if err != nil {
		return OutOfBandInvitation{}, false, store.WrapError("invitation get", id, err)
	}

	if !ok {
		return OutOfBandInvitation{}, false, nil
	}

	return rec.Data, true, nil
}
