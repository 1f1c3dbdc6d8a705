// Package peerdid implements the numalgo-4 peer DID method: a
// self-certifying identifier whose encoded form embeds enough key
// material and service information to derive its DID document without
// any network resolution. Grounded in the teacher's identity/did key
// generation (ed25519, multibase encoding) and in original_source's
// create_peer_did_4 usage, simplified to the single numalgo this module
// needs.
package peerdid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"golang.org/x/crypto/ed25519"

	"github.com/hyperpeer/agent/diddoc"
)

const (
	// Prefix identifies a did:peer:4 identifier.
	Prefix = "did:peer:4"

	numalgo4 = "4"
)

// ErrInvalidEncoding is returned when a string is not a well-formed
// numalgo-4 peer DID.
var ErrInvalidEncoding = errors.New("peerdid: invalid did:peer:4 encoding")

// PeerDID is a self-certifying did:peer:4 identifier together with the
// document it was derived from.
type PeerDID struct {
	// Short is the hash-only form: did:peer:4 followed by the base58btc
	// encoding (without its multibase prefix) of the SHA-256 digest of
	// the encoded document; the digest carries no multihash header.
	Short string
	// Long is the full form: Short + ":" + the encoded document,
	// required until the counterparty has cached the document.
	Long string

	Doc diddoc.Document
}

// String returns the long form, which is always resolvable without an
// external cache.
func (p PeerDID) String() string {
	return p.Long
}

// peerDoc is the canonical, order-sensitive structure encoded into a
// numalgo-4 identifier. Field order and names are part of the wire
// contract: re-encoding must reproduce the same bytes.
type peerDoc struct {
	KeyAgreement []encodedKey     `json:"keyAgreement"`
	Service      []diddoc.Service `json:"service,omitempty"`
}

type encodedKey struct {
	Type      string `json:"type"`
	PublicKey string `json:"publicKeyMultibase"`
}

// Create mints a fresh peer DID encoding a single ed25519 key-agreement
// key, the supplied endpoint as a DIDCommV1 service, and the supplied
// routing keys. It returns the PeerDID and the raw verification key so
// the caller can register it with the wallet.
func Create(endpoint string, routingKeys []string) (PeerDID, ed25519.PublicKey, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PeerDID{}, nil, fmt.Errorf("peerdid: generate key: %w", err)
	}

	encodedPub, err := multibase.Encode(multibase.Base58BTC, append([]byte{0xed, 0x01}, pub...))
	if err != nil {
		return PeerDID{}, nil, fmt.Errorf("peerdid: encode key: %w", err)
	}

	doc := peerDoc{
		KeyAgreement: []encodedKey{{Type: "Ed25519VerificationKey2020", PublicKey: encodedPub}},
		Service: []diddoc.Service{{
			ID:              "#didcomm",
			Type:            diddoc.ServiceTypeDIDCommV1,
			ServiceEndpoint: endpoint,
			RoutingKeys:     routingKeys,
		}},
	}

	peerDID, err := encode(doc)
	if err != nil {
		return PeerDID{}, nil, err
	}

	return peerDID, pub, nil
}

// encode serializes doc canonically, multibase-encodes it, hashes it,
// and assembles the short/long forms. This is the one place the
// encoding contract lives — Resolve must invert it exactly.
func encode(doc peerDoc) (PeerDID, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return PeerDID{}, fmt.Errorf("peerdid: marshal document: %w", err)
	}

	encodedDoc, err := multibase.Encode(multibase.Base58BTC, canonical)
	if err != nil {
		return PeerDID{}, fmt.Errorf("peerdid: encode document: %w", err)
	}

	hash := sha256.Sum256([]byte(encodedDoc))

	encodedHash, err := multibase.Encode(multibase.Base58BTC, hash[:])
	if err != nil {
		return PeerDID{}, fmt.Errorf("peerdid: encode hash: %w", err)
	}

	short := Prefix + encodedHash[1:]
	long := short + ":" + encodedDoc[1:]

	peerDID := PeerDID{Short: short, Long: long}

	peerDID.Doc, err = documentFrom(long, doc)
	if err != nil {
		return PeerDID{}, err
	}

	return peerDID, nil
}

// Resolve derives a Document from a numalgo-4 peer DID's long form
// without contacting any network. It is the local counterpart to the
// external DidResolverRegistry (spec.md §4.4 step 3): peer DIDs resolve
// from their own encoded form.
func Resolve(peerDIDStr string) (diddoc.Document, error) {
	if !strings.HasPrefix(peerDIDStr, Prefix) {
		return diddoc.Document{}, ErrInvalidEncoding
	}

	parts := strings.SplitN(strings.TrimPrefix(peerDIDStr, Prefix), ":", 2)
	if len(parts) != 2 {
		return diddoc.Document{}, fmt.Errorf("%w: missing long-form document", ErrInvalidEncoding)
	}

	hashPart, docPart := parts[0], parts[1]

	fullEncodedDoc := string(rune(multibase.Base58BTC)) + docPart

	_, rawDoc, err := multibase.Decode(fullEncodedDoc)
	if err != nil {
		return diddoc.Document{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	gotHash := sha256.Sum256([]byte(fullEncodedDoc))

	encodedHash, err := multibase.Encode(multibase.Base58BTC, gotHash[:])
	if err != nil {
		return diddoc.Document{}, fmt.Errorf("peerdid: encode hash: %w", err)
	}

	if encodedHash[1:] != hashPart {
		return diddoc.Document{}, fmt.Errorf("%w: hash mismatch", ErrInvalidEncoding)
	}

	var doc peerDoc
	if err := json.Unmarshal(rawDoc, &doc); err != nil {
		return diddoc.Document{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	return documentFrom(peerDIDStr, doc)
}

func documentFrom(id string, doc peerDoc) (diddoc.Document, error) {
	km := make([]diddoc.VerificationMethod, 0, len(doc.KeyAgreement))

	for i, k := range doc.KeyAgreement {
		km = append(km, diddoc.VerificationMethod{
			ID:                 fmt.Sprintf("%s#key-%d", id, i+1),
			Type:               k.Type,
			Controller:         id,
			PublicKeyMultibase: k.PublicKey,
		})
	}

	services := make([]diddoc.Service, 0, len(doc.Service))

	for _, s := range doc.Service {
		s.ID = id + s.ID
		services = append(services, s)
	}

	return diddoc.Document{
		Context:      []string{"https://www.w3.org/ns/did/v1"},
		ID:           id,
		KeyAgreement: km,
		Service:      services,
	}, nil
}
