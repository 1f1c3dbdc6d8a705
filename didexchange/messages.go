package didexchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperpeer/agent/agenterr"
	"github.com/hyperpeer/agent/invitation"
)

// MessageType identifies which DID-Exchange message a plaintext payload
// carries, recovered from its "@type" header before the payload is
// unmarshaled into one of Request/Response/Complete/ProblemReport. An
// inbound handler uses it to pick the right connectionsvc transition
// (spec.md §4.5).
type MessageType string

const (
	TypeRequest       MessageType = "https://didcomm.org/didexchange/1.1/request"
	TypeResponse      MessageType = "https://didcomm.org/didexchange/1.1/response"
	TypeComplete      MessageType = "https://didcomm.org/didexchange/1.1/complete"
	TypeProblemReport MessageType = "https://didcomm.org/didexchange/1.1/problem-report"
)

// ErrNoMessageType is returned when a plaintext payload carries no
// "@type" header, meaning it is not a DID-Exchange protocol message
// (most often, an application message sent over an established
// connection).
var ErrNoMessageType = errors.New("didexchange: payload carries no @type header")

// MessageTypeOf recovers plaintext's "@type" header without committing
// to one of the concrete message shapes, so a dispatcher can pick the
// right one to unmarshal into.
func MessageTypeOf(plaintext []byte) (MessageType, error) {
	var header struct {
		Type MessageType `json:"@type"`
	}

	if err := json.Unmarshal(plaintext, &header); err != nil || header.Type == "" {
		return "", ErrNoMessageType
	}

	return header.Type, nil
}

// SupportedVersions are the handshake protocol versions this agent
// understands, newest first. Grounded in original_source's
// DidExchangeTypeV1::new_v1_1 — only 1.1 is constructed there, but the
// negotiation helper is written generally per spec.md §4.5.
var SupportedVersions = []string{"1.1", "1.0"}

// ReturnRouteAll is the transport decorator value attached to a
// Request when the agent is not using a mediator, allowing the
// Response to be delivered inline on the same connection.
const ReturnRouteAll = "all"

// Request is a DID-Exchange request message (spec.md §4.5).
type Request struct {
	Type                 MessageType `json:"@type"`
	ID                   string
	ThreadID             string
	Label                string
	OurDid               string
	Version              string
	TransportReturnRoute string
}

// Response is a DID-Exchange response message.
type Response struct {
	Type     MessageType `json:"@type"`
	ID       string
	ThreadID string
	TheirDid string
}

// Complete is a DID-Exchange complete message.
type Complete struct {
	Type     MessageType `json:"@type"`
	ID       string
	ThreadID string
}

// ProblemCode enumerates the reasons a handshake may be abandoned
// (SPEC_FULL.md §4.17).
type ProblemCode string

const (
	ProblemRequestNotAccepted  ProblemCode = "request-not-accepted"
	ProblemResponseNotAccepted ProblemCode = "response-not-accepted"
	ProblemAbandoned           ProblemCode = "abandoned"
)

// ProblemReport is sent to a counterparty when a protocol message does
// not match the current connection state (spec.md §4.5, §7).
type ProblemReport struct {
	Type     MessageType `json:"@type"`
	ID       string
	ThreadID string
	Code     ProblemCode
	Comment  string
}

// BuildRequest constructs a DID-Exchange request whose thread id is the
// invitation id, whose body carries ourDid, and whose label is the
// agent's configured label. threadID is the invitation id when present
// (spec.md §4.5); requestID is a freshly minted message id, supplied by
// the caller so this function stays deterministic for tests.
func BuildRequest(requestID, threadID, label, ourDid, version string, mediated bool) Request {
	req := Request{Type: TypeRequest, ID: requestID, ThreadID: threadID, Label: label, OurDid: ourDid, Version: version}
	if !mediated {
		req.TransportReturnRoute = ReturnRouteAll
	}

	return req
}

// AcceptableVersion returns the newest version present in both inv's
// advertised handshake protocols and SupportedVersions, ties broken by
// version descending (spec.md §4.5). It fails with
// UnacceptableHandshakeVersion if no version is mutually supported.
func AcceptableVersion(inv invitation.OutOfBandInvitation) (string, error) {
	offered := make(map[string]bool, len(inv.HandshakeProtocols))
	for _, p := range inv.HandshakeProtocols {
		offered[versionOf(string(p))] = true
	}

	var mutual []string

	for _, v := range SupportedVersions {
		if offered[v] {
			mutual = append(mutual, v)
		}
	}

	if len(mutual) == 0 {
		return "", fmt.Errorf("%w", agenterr.ErrUnacceptableHandshakeVersion)
	}

	sort.Sort(sort.Reverse(byVersion(mutual)))

	return mutual[0], nil
}

// versionOf extracts the trailing "M.N" version component from a
// handshake protocol identifier such as
// "https://didcomm.org/didexchange/1.1".
func versionOf(protocol string) string {
	parts := strings.Split(protocol, "/")

	return parts[len(parts)-1]
}

type byVersion []string

func (v byVersion) Len() int      { return len(v) }
func (v byVersion) Swap(i, j int) { v[i], v[j] = v[j], v[i] }

func (v byVersion) Less(i, j int) bool {
	return compareVersions(v[i], v[j]) < 0
}

// compareVersions compares two "M.N" version strings numerically,
// returning a negative number, zero, or a positive number.
func compareVersions(a, b string) int {
	am, an := splitVersion(a)
	bm, bn := splitVersion(b)

	if am != bm {
		return am - bm
	}

	return an - bn
}

func splitVersion(v string) (int, int) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0
	}

	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])

	if err1 != nil || err2 != nil {
		return 0, 0
	}

	return major, minor
}
