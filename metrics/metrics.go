// Package metrics exposes Prometheus instrumentation for the transport
// registry and connection service (SPEC_FULL.md §4.12), grounded in the
// teacher's server/metrics.Server (a dedicated registry + HTTP server
// serving /metrics, separate from the main listener) and
// server/routing/metrics.go's label-counted pattern, translated from a
// hand-rolled datastore-backed counter to genuine
// github.com/prometheus/client_golang instruments.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/transport"
)

const (
	metricsCollectionTimeout = 10 * time.Second
	httpReadHeaderTimeout    = 5 * time.Second
)

// Recorder owns the Prometheus instruments this module reports:
// messages_sent_total (by scheme and outcome), messages_received_total
// (by outcome) and connections_total (a gauge by state).
type Recorder struct {
	registry *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	connections      *prometheus.GaugeVec
}

// New constructs a Recorder with its own Prometheus registry, matching
// the teacher's choice of a custom registry over the global one to
// avoid cross-process registration conflicts.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperpeer_agent_messages_sent_total",
			Help: "Outbound DIDComm envelopes dispatched, by transport scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperpeer_agent_messages_received_total",
			Help: "Inbound DIDComm envelopes unpacked, by outcome.",
		}, []string{"outcome"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperpeer_agent_connections_total",
			Help: "Connection records currently in each DID-Exchange state.",
		}, []string{"state"}),
	}

	registry.MustRegister(r.messagesSent, r.messagesReceived, r.connections)

	return r
}

var _ transport.SendObserver = (*Recorder)(nil)

// ObserveSend implements transport.SendObserver.
func (r *Recorder) ObserveSend(scheme transport.Scheme, outcome string) {
	r.messagesSent.WithLabelValues(string(scheme), outcome).Inc()
}

// Registry returns the Prometheus registry backing this recorder, for
// wiring into a Server or an existing promhttp handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Subscribe drains bus's event stream on the caller's goroutine,
// updating the connections_total gauge from ConnectionEvents and the
// messages_received_total counter from InboundMessage events, until ctx
// is cancelled. Intended to run in its own goroutine for the lifetime
// of the agent process.
func (r *Recorder) Subscribe(ctx context.Context, bus *events.Bus) {
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	var lastState = map[string]connection.State{}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			r.observe(ev, lastState)
		}
	}
}

func (r *Recorder) observe(ev *events.Event, lastState map[string]connection.State) {
	switch ev.Type {
	case events.TypeConnection:
		state := connection.State(ev.Metadata["state"])
		if prev, ok := lastState[ev.ConnectionID]; ok {
			r.connections.WithLabelValues(string(prev)).Dec()
		}

		r.connections.WithLabelValues(string(state)).Inc()
		lastState[ev.ConnectionID] = state
	case events.TypeInboundMessage:
		outcome := "ok"
		if ev.Metadata["sender_key"] == "" {
			outcome = "anonymous"
		}

		r.messagesReceived.WithLabelValues(outcome).Inc()
	case events.TypeOutboundMessage, events.TypeInvitation:
		// No counters defined for these event types yet.
	}
}

// Server exposes a Recorder's registry on a dedicated HTTP listener,
// matching the teacher's server/metrics.Server shape exactly (separate
// port from the agent's own inbound transports, graceful shutdown).
type Server struct {
	httpServer *http.Server
	address    string
}

// NewServer builds a metrics HTTP server bound to address, serving
// recorder's registry at /metrics.
func NewServer(address string, recorder *Recorder) *Server {
	handler := promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Timeout:           metricsCollectionTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	return &Server{
		address: address,
		httpServer: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: httpReadHeaderTimeout,
		},
	}
}

// Start runs the metrics HTTP server in the background. It returns
// immediately; ListenAndServe errors other than a graceful shutdown
// are reported on errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: serve %s: %w", s.address, err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}

	return nil
}
