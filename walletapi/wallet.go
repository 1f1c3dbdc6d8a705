// Package walletapi defines the Wallet capability this core consumes
// (spec.md §6). The wallet owns key storage, signing, and DIDComm v1
// JWE packing/unpacking; it is explicitly out of scope for this module
// (spec.md §1) and is satisfied by an external component. Only the
// interface and a test double live here, grounded in the teacher's
// `identity/did` key handling and in the pack's CloseableWallet test
// double (jessie-codes-aries-framework-go/pkg/internal/mock/wallet).
package walletapi

import (
	"context"
	"errors"

	"github.com/hyperpeer/agent/diddoc"
)

// ErrPackMessage and ErrUnpackMessage are sentinel causes a Wallet
// implementation may return. Package envelope wraps whatever error a
// wallet returns in agenterr.ErrEncryptMessage / ErrDecryptMessage;
// nothing in this module returns these two itself.
var (
	ErrPackMessage   = errors.New("walletapi: failed to pack message")
	ErrUnpackMessage = errors.New("walletapi: failed to unpack message")
)

// Envelope is an opaque, sealed DIDComm v1 JWE byte string (spec.md §3).
type Envelope []byte

// UnpackResult carries the plaintext and sender attribution recovered
// from an envelope. SenderKey is empty for anonymous encryption.
type UnpackResult struct {
	Plaintext    []byte
	SenderKey    string
	RecipientKey string
}

// Wallet is the cryptographic capability this core depends on but does
// not implement.
type Wallet interface {
	// CreatePeerDID mints a new peer DID bound to endpointURL and
	// routingKeys, returning the DID and its verification key.
	CreatePeerDID(ctx context.Context, endpointURL string, routingKeys []string) (did string, verKey string, err error)

	// PackAuthenticated seals plaintext from one of senderDoc's
	// key-agreement keys to one of recipientDoc's, addressed at
	// recipientServiceID.
	PackAuthenticated(ctx context.Context, plaintext []byte, senderDoc, recipientDoc diddoc.Document, recipientServiceID string) (Envelope, error)

	// PackAnonymous seals plaintext to one of recipientDoc's
	// key-agreement keys without sender attribution.
	PackAnonymous(ctx context.Context, plaintext []byte, recipientDoc diddoc.Document, recipientServiceID string) (Envelope, error)

	// Unpack opens an envelope, choosing authenticated vs anonymous
	// unpacking by inspecting the JWE's "alg" header.
	Unpack(ctx context.Context, envelope Envelope) (UnpackResult, error)
}
