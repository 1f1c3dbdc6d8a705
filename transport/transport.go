// Package transport implements the scheme-keyed transport registry
// (spec.md §4.4 step 5/§6), grounded in original_source's transports.rs
// TransportRegistry/PREFERRED_PROTOCOL_ORDER, following the teacher's
// resolver.Registry fluent-register shape (see package resolver).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/hyperpeer/agent/walletapi"
)

// Scheme identifies a transport by URL scheme class, matching the
// original's TransportProtocol enum.
type Scheme string

const (
	SchemeHTTP Scheme = "http"
	SchemeWS   Scheme = "ws"
)

// PreferredOrder is the default transport iteration order for outbound
// sends (spec.md §4.4.2), fixed to [WS, HTTP] per original_source's
// PREFERRED_PROTOCOL_ORDER.
var PreferredOrder = []Scheme{SchemeWS, SchemeHTTP}

// Sentinel errors (spec.md §7, Transport category).
var (
	ErrInvalidTransportScheme         = errors.New("transport: invalid or unrecognized scheme")
	ErrNoRegisteredTransportForScheme = errors.New("transport: no transport registered for scheme")
	ErrorSendingMessage               = errors.New("transport: error sending message")
)

// Transport sends an already-encrypted envelope to endpoint. It
// returns a non-nil inline reply when the counterparty answered
// synchronously on the same connection (return_route=all).
type Transport interface {
	Send(ctx context.Context, endpoint *url.URL, message walletapi.Envelope) (walletapi.Envelope, error)
}

// SendObserver receives the outcome of every dispatched send, keyed by
// scheme and a short outcome label ("ok", "error", "no_transport",
// "invalid_scheme"). Satisfied by package metrics; defined here so
// transport stays free of a Prometheus dependency.
type SendObserver interface {
	ObserveSend(scheme Scheme, outcome string)
}

// Registry dispatches outbound sends by endpoint URL scheme.
type Registry struct {
	mu         sync.RWMutex
	transports map[Scheme]Transport

	// Observer, if set, is notified of every Send outcome (SPEC_FULL.md
	// §4.12). Left nil by default; CLI wiring sets it when metrics are
	// enabled.
	Observer SendObserver
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[Scheme]Transport)}
}

// Register binds a Transport to a scheme class, returning the registry
// for fluent construction.
func (r *Registry) Register(scheme Scheme, t Transport) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transports[scheme] = t

	return r
}

// SchemeOf classifies a raw URL scheme (case-insensitive) into a
// transport Scheme, or ErrInvalidTransportScheme if unrecognized.
func SchemeOf(rawScheme string) (Scheme, error) {
	switch strings.ToLower(rawScheme) {
	case "http", "https":
		return SchemeHTTP, nil
	case "ws", "wss":
		return SchemeWS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransportScheme, rawScheme)
	}
}

// Send dispatches message to the endpoint's transport, classifying the
// endpoint's URL scheme and looking up the registered Transport.
func (r *Registry) Send(ctx context.Context, endpoint *url.URL, message walletapi.Envelope) (walletapi.Envelope, error) {
	scheme, err := SchemeOf(endpoint.Scheme)
	if err != nil {
		r.observe("", "invalid_scheme")

		return nil, err
	}

	r.mu.RLock()
	t, ok := r.transports[scheme]
	r.mu.RUnlock()

	if !ok {
		r.observe(scheme, "no_transport")

		return nil, fmt.Errorf("%w: %s", ErrNoRegisteredTransportForScheme, scheme)
	}

	reply, err := t.Send(ctx, endpoint, message)
	if err != nil {
		r.observe(scheme, "error")

		return nil, fmt.Errorf("%w: %w", ErrorSendingMessage, err)
	}

	r.observe(scheme, "ok")

	return reply, nil
}

func (r *Registry) observe(scheme Scheme, outcome string) {
	if r.Observer != nil {
		r.Observer.ObserveSend(scheme, outcome)
	}
}
