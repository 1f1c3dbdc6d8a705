// Package agenterr defines the sentinel error taxonomy this module
// uses to classify failures (spec.md §7) and a ComponentError wrapper
// for attaching structured metadata to them, grounded in the teacher's
// utils/componenterror.ComponentError. The teacher's variant encodes
// errors for a gRPC API surface (google.golang.org/genproto/.../errdetails);
// this module has no gRPC surface, so that dependency is dropped (see
// DESIGN.md) and ComponentError here only carries Component/Metadata/
// Message/Err, still usable as a local structured-logging attachment.
package agenterr

import (
	"errors"
	"maps"
)

// Storage errors (spec.md §7) are not declared in this package; their
// only definition site is package store.
// See store.ErrDuplicateRecord, store.ErrRecordDoesNotExist,
// store.ErrSerialization, store.ErrDeserialization.

// Messaging errors.
var (
	ErrConnectionRecordNotFound = errors.New("messaging: connection record not found")
	ErrDidResolution            = errors.New("messaging: failed to resolve counterparty did")
	ErrDidResolutionPeerDid     = errors.New("messaging: failed to resolve our own peer did")
	ErrInvalidDidDocService     = errors.New("messaging: recipient did document has no didcomm-v1 service")
	ErrEncryptMessage           = errors.New("messaging: failed to encrypt message")
	ErrDecryptMessage           = errors.New("messaging: failed to decrypt message")
	ErrOutboundTransportError   = errors.New("messaging: no transport succeeded")
)

// Protocol errors.
var (
	ErrUnexpectedMessageForState    = errors.New("protocol: message does not match connection state")
	ErrUnacceptableHandshakeVersion = errors.New("protocol: no mutually supported handshake version")
	ErrNoServiceInInvitation        = errors.New("protocol: invitation has no resolvable service")
	ErrInvitationNotFound           = errors.New("protocol: invitation not found")
)

// ComponentError attaches a component name and free-form metadata to
// an underlying error, matching the teacher's fluent WithX builder
// pattern.
type ComponentError struct {
	Err error

	Component string
	Metadata  map[string]string
	Message   string
}

// New wraps err as a ComponentError attributed to component.
func New(err error, component string) *ComponentError {
	ce := &ComponentError{Err: err, Component: component}
	if err != nil {
		ce.Message = err.Error()
	}

	return ce
}

func (e *ComponentError) Error() string {
	return e.Message
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// WithMetadata merges metadata into the error's metadata map.
func (e *ComponentError) WithMetadata(metadata map[string]string) *ComponentError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}

	maps.Copy(e.Metadata, metadata)

	return e
}

// WithMessage overrides the error's display message.
func (e *ComponentError) WithMessage(message string) *ComponentError {
	e.Message = message

	return e
}
