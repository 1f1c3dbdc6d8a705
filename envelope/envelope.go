// Package envelope adapts walletapi.Wallet's pack/unpack calls to the
// messaging pipeline's needs: picking a DIDCommV1 service from a DID
// document and wrapping wallet errors with the spec's messaging error
// kinds. Grounded in original_source's messaging_service.rs, which
// performs the same two steps (select service, call EncryptionEnvelope)
// before handing off to a transport.
package envelope

import (
	"context"
	"fmt"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/diddoc"
	"github.com/hyperpeer/agent/walletapi"
)

// RequireDIDCommV1Service returns theirDoc's first DIDCommV1 service,
// wrapped as InvalidDidDocService on failure (spec.md §4.4 step 4).
func RequireDIDCommV1Service(theirDoc diddoc.Document) (diddoc.Service, error) {
	svc, err := theirDoc.FirstDIDCommV1Service()
	if err != nil {
		return diddoc.Service{}, fmt.Errorf("%w: %w", agenterr.ErrInvalidDidDocService, err)
	}

	return svc, nil
}

// Pack authenticates and encrypts plaintext from ourDoc to
// recipientServiceID on theirDoc.
func Pack(ctx context.Context, wallet walletapi.Wallet, plaintext []byte, ourDoc, theirDoc diddoc.Document, recipientServiceID string) (walletapi.Envelope, error) {
	env, err := wallet.PackAuthenticated(ctx, plaintext, ourDoc, theirDoc, recipientServiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", agenterr.ErrEncryptMessage, err)
	}

	return env, nil
}

// Unpack opens an inbound envelope, wrapping wallet failures as
// DecryptMessage.
func Unpack(ctx context.Context, wallet walletapi.Wallet, env walletapi.Envelope) (walletapi.UnpackResult, error) {
	result, err := wallet.Unpack(ctx, env)
	if err != nil {
		return walletapi.UnpackResult{}, fmt.Errorf("%w: %w", agenterr.ErrDecryptMessage, err)
	}

	return result, nil
}
