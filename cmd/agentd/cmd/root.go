// Package cmd implements agentd's command tree, grounded in the
// teacher's cli/cmd.NewRootCommand: a PersistentPreRunE that loads
// configuration and stashes a long-lived collaborator (there, a
// client.Client; here, an agentapp.App) on the command's context for
// every subcommand to read back.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperpeer/agent/agentapp"
	"github.com/hyperpeer/agent/config"
	"github.com/hyperpeer/agent/logging"
)

type appContextKey struct{}

func withApp(ctx context.Context, app *agentapp.App) context.Context {
	return context.WithValue(ctx, appContextKey{}, app)
}

func appFromContext(cmd *cobra.Command) (*agentapp.App, error) {
	app, ok := cmd.Context().Value(appContextKey{}).(*agentapp.App)
	if !ok {
		return nil, fmt.Errorf("cmd: no agent configured on context")
	}

	return app, nil
}

// NewRootCommand builds the agentd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "Demo DID-Exchange agent",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := logging.WithLogger(cmd.Context(), cmd.OutOrStderr())
			ctx = withApp(ctx, agentapp.New(cfg))
			cmd.SetContext(ctx)

			return nil
		},
	}

	root.AddCommand(
		newInviteCommand(),
		newReceiveCommand(),
		newSendCommand(),
		newServeCommand(),
	)

	return root
}

// Execute runs agentd's root command to completion under ctx.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("agentd: %w", err)
	}

	return nil
}
