// Package walletmock provides a scriptable Wallet test double, grounded
// in the pack's CloseableWallet pattern (jessie-codes-aries-framework-go
// pkg/internal/mock/wallet): every method returns a pre-set value/error
// pair rather than doing real cryptography, so protocol and messaging
// tests can exercise failure paths deterministically.
package walletmock

import (
	"context"
	"fmt"

	"github.com/hyperpeer/agent/diddoc"
	"github.com/hyperpeer/agent/walletapi"
)

// Wallet is a scriptable walletapi.Wallet.
type Wallet struct {
	CreatePeerDIDFunc func(ctx context.Context, endpointURL string, routingKeys []string) (string, string, error)
	UnpackFunc        func(ctx context.Context, envelope walletapi.Envelope) (walletapi.UnpackResult, error)

	PackValue walletapi.Envelope
	PackErr   error

	UnpackValue walletapi.UnpackResult
	UnpackErr   error
}

var _ walletapi.Wallet = (*Wallet)(nil)

func (w *Wallet) CreatePeerDID(ctx context.Context, endpointURL string, routingKeys []string) (string, string, error) {
	if w.CreatePeerDIDFunc != nil {
		return w.CreatePeerDIDFunc(ctx, endpointURL, routingKeys)
	}

	return fmt.Sprintf("did:example:%s", endpointURL), "mock-verkey", nil
}

func (w *Wallet) PackAuthenticated(_ context.Context, plaintext []byte, _, _ diddoc.Document, _ string) (walletapi.Envelope, error) {
	if w.PackErr != nil {
		return nil, w.PackErr
	}

	if w.PackValue != nil {
		return w.PackValue, nil
	}

	return walletapi.Envelope(append([]byte("auth:"), plaintext...)), nil
}

func (w *Wallet) PackAnonymous(_ context.Context, plaintext []byte, _ diddoc.Document, _ string) (walletapi.Envelope, error) {
	if w.PackErr != nil {
		return nil, w.PackErr
	}

	if w.PackValue != nil {
		return w.PackValue, nil
	}

	return walletapi.Envelope(append([]byte("anon:"), plaintext...)), nil
}

func (w *Wallet) Unpack(ctx context.Context, envelope walletapi.Envelope) (walletapi.UnpackResult, error) {
	if w.UnpackFunc != nil {
		return w.UnpackFunc(ctx, envelope)
	}

	if w.UnpackErr != nil {
		return walletapi.UnpackResult{}, w.UnpackErr
	}

	if w.UnpackValue.Plaintext != nil || w.UnpackValue.SenderKey != "" {
		return w.UnpackValue, nil
	}

	switch {
	case len(envelope) >= 5 && string(envelope[:5]) == "auth:":
		return walletapi.UnpackResult{Plaintext: envelope[5:], SenderKey: "mock-sender-key", RecipientKey: "mock-recipient-key"}, nil
	case len(envelope) >= 5 && string(envelope[:5]) == "anon:":
		return walletapi.UnpackResult{Plaintext: envelope[5:], RecipientKey: "mock-recipient-key"}, nil
	default:
		return walletapi.UnpackResult{}, fmt.Errorf("walletmock: cannot unpack envelope")
	}
}
