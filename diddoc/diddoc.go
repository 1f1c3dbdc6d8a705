// Package diddoc models the resolved description of a DID: its
// verification keys, key agreements, and service endpoints. Shape
// follows the teacher's identity/did document model, trimmed to the
// fields the DIDComm v1 / DID-Exchange core actually reads.
package diddoc

import "errors"

// ServiceType identifies the purpose of a service entry. Only
// DIDCommV1 is understood for message delivery; other types are
// preserved opaquely for round-tripping.
type ServiceType string

const (
	ServiceTypeDIDCommV1 ServiceType = "did-communication"
)

// ErrNoDIDCommV1Service is returned when a document advertises no
// service of type DIDCommV1.
var ErrNoDIDCommV1Service = errors.New("diddoc: no DIDCommV1 service in document")

// ErrNoKeyAgreementKey is returned when a document advertises no
// key-agreement verification method.
var ErrNoKeyAgreementKey = errors.New("diddoc: no key-agreement key in document")

// Service is a single service entry in a DID document.
type Service struct {
	ID              string      `json:"id"`
	Type            ServiceType `json:"type"`
	ServiceEndpoint string      `json:"serviceEndpoint"`
	RoutingKeys     []string    `json:"routingKeys,omitempty"`
	RecipientKeys   []string    `json:"recipientKeys,omitempty"`
}

// VerificationMethod is a key bound to a DID, used either for
// authentication or key agreement.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Document is the resolved description of a DID.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
	KeyAgreement       []VerificationMethod `json:"keyAgreement,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// FirstDIDCommV1Service returns the first service of type DIDCommV1, or
// ErrNoDIDCommV1Service if the document advertises none (spec.md §4.4
// step 4).
func (d Document) FirstDIDCommV1Service() (Service, error) {
	for _, s := range d.Service {
		if s.Type == ServiceTypeDIDCommV1 {
			return s, nil
		}
	}

	return Service{}, ErrNoDIDCommV1Service
}

// DIDCommV1Services returns every service of type DIDCommV1, in
// document order, for transport iteration over multiple candidate
// endpoints (spec.md §4.4.2).
func (d Document) DIDCommV1Services() []Service {
	services := make([]Service, 0, len(d.Service))

	for _, s := range d.Service {
		if s.Type == ServiceTypeDIDCommV1 {
			services = append(services, s)
		}
	}

	return services
}

// KeyAgreementKeys returns the public key material usable for
// authenticated/anonymous encryption, in document order.
func (d Document) KeyAgreementKeys() []string {
	keys := make([]string, 0, len(d.KeyAgreement))
	for _, k := range d.KeyAgreement {
		keys = append(keys, k.PublicKeyMultibase)
	}

	return keys
}

// FirstKeyAgreementKey returns the first key-agreement key's multibase
// encoding, the value the DID repository's reverse lookup indexes on to
// attribute an inbound envelope's recipient key back to its owning DID
// (spec.md §4.2).
func (d Document) FirstKeyAgreementKey() (string, error) {
	keys := d.KeyAgreementKeys()
	if len(keys) == 0 {
		return "", ErrNoKeyAgreementKey
	}

	return keys[0], nil
}
