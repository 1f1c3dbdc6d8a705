// Package agentapp wires the core packages (store, repositories,
// transports, messaging, connection service, invitation service) into
// one running agent, the way the teacher's cli/cmd.Run wires a
// client.Client and a sessionstore.Store for its command tree. Nothing
// here is part of the core spec; it is the composition root the CLI
// and any other entry point build on.
package agentapp

import (
	"context"
	"fmt"

	"github.com/hyperpeer/agent/config"
	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/connectionsvc"
	"github.com/hyperpeer/agent/events"
	"github.com/hyperpeer/agent/invitation"
	"github.com/hyperpeer/agent/logging"
	"github.com/hyperpeer/agent/messaging"
	"github.com/hyperpeer/agent/metrics"
	"github.com/hyperpeer/agent/resolver"
	"github.com/hyperpeer/agent/store/memory"
	"github.com/hyperpeer/agent/transport"
	"github.com/hyperpeer/agent/walletapi"
	"github.com/hyperpeer/agent/walletapi/walletmock"
)

// App bundles one agent's live collaborators. The wallet defaults to
// walletmock.Wallet: the real cryptographic wallet is explicitly out
// of this module's scope (spec.md §1) and is the one piece a
// production deployment must substitute — see WithWallet.
type App struct {
	Config *config.Config

	Bus           *events.Bus
	Connections   *connection.Repository
	Dids          *connection.DidRepository
	Resolvers     *resolver.Registry
	Transports    *transport.Registry
	Wallet        walletapi.Wallet
	Messaging     *messaging.Pipeline
	Invitations   *invitation.Service
	ConnectionSvc *connectionsvc.Service
	Metrics       *metrics.Recorder
}

// Option customizes New's wiring before services are constructed.
type Option func(*App)

// WithWallet overrides the default mock wallet with a real
// implementation, e.g. one backed by the wallet DB configured under
// config.Wallet.
func WithWallet(w walletapi.Wallet) Option {
	return func(a *App) { a.Wallet = w }
}

// WithResolvers registers additional DID method resolvers beyond the
// built-in did:peer local resolution (which needs no registry entry at
// all — see messaging.ResolveDID).
func WithResolvers(register func(*resolver.Registry)) Option {
	return func(a *App) { register(a.Resolvers) }
}

// New wires one agent's collaborators from cfg: in-memory connection
// and DID repositories, an HTTP+WS transport registry, an event bus, a
// messaging pipeline, an invitation service, and the connection
// service that drives the DID-Exchange handshake over them.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		Config:      cfg,
		Bus:         events.NewBus(),
		Connections: connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]()),
		Dids:        connection.NewDidRepository(memory.New[connection.DidRecord, connection.DidTagKey]()),
		Resolvers:   resolver.NewRegistry(),
		Transports:  transport.NewRegistry(),
		Wallet:      &walletmock.Wallet{},
	}

	for _, opt := range opts {
		opt(a)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Transports.Observer = a.Metrics
	}

	a.Transports.
		Register(transport.SchemeHTTP, transport.NewHTTPTransport()).
		Register(transport.SchemeWS, transport.NewWSTransport())

	a.Messaging = messaging.NewPipeline(a.Connections, a.Resolvers, a.Wallet, a.Transports, a.Bus)

	invitationBackend := memory.New[invitation.OutOfBandInvitation, invitation.TagKey]()
	a.Invitations = invitation.NewService(invitationBackend, a.Dids, a.Bus, cfg.Agent.EndpointURL, cfg.Agent.Label)

	svcCfg := connectionsvc.Config{
		AutoRespondToRequests: cfg.Connection.AutoRespondToRequests,
		AutoCompleteRequests:  cfg.Connection.AutoCompleteRequests,
		AutoHandleRequests:    cfg.Connection.AutoHandleRequests,
	}
	a.ConnectionSvc = connectionsvc.NewService(a.Connections, a.Dids, a.Invitations, a.Messaging, a.Resolvers, a.Wallet, a.Bus, svcCfg, cfg.Agent.Label, cfg.Agent.EndpointURL)

	return a
}

// StartMetrics starts the metrics HTTP server and the event-bus
// subscriber that feeds it, if metrics are enabled. The returned
// cancel function stops the subscriber; stopping the HTTP server
// itself is the caller's responsibility (it needs its own deadline).
func (a *App) StartMetrics(ctx context.Context) (*metrics.Server, func(), error) {
	if a.Metrics == nil {
		return nil, func() {}, nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	go a.Metrics.Subscribe(subCtx, a.Bus)

	server := metrics.NewServer(a.Config.Metrics.Address, a.Metrics)

	errCh := make(chan error, 1)
	server.Start(errCh)

	go func() {
		select {
		case err := <-errCh:
			logging.FromContext(ctx).Error("metrics server failed", "error", err)
		case <-subCtx.Done():
		}
	}()

	return server, cancel, nil
}

// LogEvents subscribes to the event bus and logs every event at info
// level until ctx is cancelled, matching the teacher's habit of a
// standing diagnostic subscriber alongside the Prometheus one.
func (a *App) LogEvents(ctx context.Context) {
	id, ch := a.Bus.Subscribe()
	defer a.Bus.Unsubscribe(id)

	logger := logging.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			logger.Info("event", "type", ev.Type, "connection_id", ev.ConnectionID, "metadata", fmt.Sprint(ev.Metadata))
		}
	}
}
