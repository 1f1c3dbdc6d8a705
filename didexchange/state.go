// Package didexchange implements the DID-Exchange protocol messages
// and state machine (spec.md §4.5), grounded in original_source's
// connection_service.rs: request_connection is the only fully
// implemented transition there (Requested), with process_response,
// process_request, send_response, process_complete all left as empty
// stub functions. This package builds out the full table those stubs
// were placeholders for.
package didexchange

import (
	"errors"
	"fmt"

	"github.com/hyperpeer/agent/connection"
)

// Event identifies a transition input in the state table.
type Event string

const (
	EventCreateInvitation  Event = "create_invitation"
	EventRequestConnection Event = "request_connection"
	EventReceiveRequest    Event = "receive_request"
	EventReceiveResponse   Event = "receive_response"
	EventReceiveComplete   Event = "receive_complete"
	EventProblemReport     Event = "problem_report"
)

// ErrNoTransition is wrapped by UnexpectedMessageForState when a
// (from, event) pair has no defined transition.
var ErrNoTransition = errors.New("didexchange: no transition defined for state and event")

// transition describes one legal (from, event) -> to edge. "" as From
// models the absence of a prior record (the two creation transitions).
type transition struct {
	from  connection.State
	event Event
	to    connection.State
}

var table = []transition{
	{from: "", event: EventCreateInvitation, to: connection.StateInvited},
	{from: "", event: EventRequestConnection, to: connection.StateRequested},
	{from: connection.StateInvited, event: EventReceiveRequest, to: connection.StateResponded},
	{from: connection.StateRequested, event: EventReceiveResponse, to: connection.StateCompleted},
	{from: connection.StateResponded, event: EventReceiveComplete, to: connection.StateCompleted},
}

// Transition returns the state reached by applying event to from. A
// ProblemReport is accepted from any state, including states with no
// other defined transition, and always lands on Abandoned (spec.md
// §4.5's "any -> Abandoned" row). Any other pair with no table entry
// is rejected.
func Transition(from connection.State, event Event) (connection.State, error) {
	if event == EventProblemReport {
		return connection.StateAbandoned, nil
	}

	for _, t := range table {
		if t.from == from && t.event == event {
			return t.to, nil
		}
	}

	return "", fmt.Errorf("%w: state=%q event=%q", ErrNoTransition, from, event)
}
