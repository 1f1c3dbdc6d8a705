package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hyperpeer/agent/agentapp"
	"github.com/hyperpeer/agent/didexchange"
	"github.com/hyperpeer/agent/logging"
	"github.com/hyperpeer/agent/walletapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP+WS inbound listener, the metrics server, and log events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			metricsServer, stopMetrics, err := app.StartMetrics(ctx)
			if err != nil {
				return fmt.Errorf("start metrics: %w", err)
			}

			go app.LogEvents(ctx)

			httpSrv := &http.Server{
				Addr:    app.Config.Transport.HTTPListenAddress,
				Handler: inboundHandler(app),
			}

			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http inbound listener failed", "error", err)
				}
			}()

			wsSrv := &http.Server{
				Addr:    app.Config.Transport.WSListenAddress,
				Handler: wsInboundHandler(app),
			}

			go func() {
				if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("ws inbound listener failed", "error", err)
				}
			}()

			logger.Info("agentd serving",
				"http", app.Config.Transport.HTTPListenAddress,
				"ws", app.Config.Transport.WSListenAddress,
				"metrics_enabled", app.Config.Metrics.Enabled)

			<-ctx.Done()

			stopMetrics()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			_ = httpSrv.Shutdown(shutdownCtx)
			_ = wsSrv.Shutdown(shutdownCtx)

			if metricsServer != nil {
				_ = metricsServer.Stop(shutdownCtx)
			}

			return nil
		},
	}

	return command
}

// dispatchInbound unpacks env and routes its plaintext into the
// connection service: a DID-Exchange protocol message (Request,
// Response, Complete, ProblemReport) drives the matching state
// transition via HandleInboundMessage. A Request is matched to its
// invitation by thread id; the other three are attributed to a
// connection through the DID repository's KeyAgreementKey reverse
// lookup (spec.md §4.2). Anything else is an application message over an
// already-established connection and is only logged here.
func dispatchInbound(ctx context.Context, app *agentapp.App, env walletapi.Envelope) {
	logger := logging.FromContext(ctx)

	result, err := app.Wallet.Unpack(ctx, env)
	if err != nil {
		logger.Warn("inbound unpack failed", "error", err)

		return
	}

	if _, err := didexchange.MessageTypeOf(result.Plaintext); err != nil {
		logger.Info("inbound application message", "sender_key", result.SenderKey, "recipient_key", result.RecipientKey)

		return
	}

	rec, err := app.ConnectionSvc.HandleInboundMessage(ctx, result.Plaintext, result.RecipientKey)
	if err != nil {
		logger.Warn("inbound protocol message handling failed", "error", err, "recipient_key", result.RecipientKey)

		return
	}

	logger.Info("inbound protocol message handled", "connection_id", rec.ID, "state", rec.State)
}

// inboundHandler accepts a POSTed DIDComm envelope and dispatches it
// through dispatchInbound.
func inboundHandler(app *agentapp.App) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		dispatchInbound(r.Context(), app, walletapi.Envelope(body))
		w.WriteHeader(http.StatusAccepted)
	})
}

var upgrader = websocket.Upgrader{}

func wsInboundHandler(app *agentapp.App) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, body, err := conn.ReadMessage()
			if err != nil {
				return
			}

			dispatchInbound(r.Context(), app, walletapi.Envelope(body))
		}
	})
}
