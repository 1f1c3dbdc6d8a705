package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperpeer/agent/transport"
)

func newSendCommand() *cobra.Command {
	var preferred []string

	command := &cobra.Command{
		Use:   "send <connection-id> <text>",
		Short: "Send an application message over an established connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			order, err := parseSchemes(preferred)
			if err != nil {
				return err
			}

			return app.Messaging.SendMessage(cmd.Context(), []byte(args[1]), args[0], order)
		},
	}

	command.Flags().StringSliceVar(&preferred, "transport", nil, "preferred transport schemes in order (ws, http); defaults to [ws, http]")

	return command
}

func parseSchemes(raw []string) ([]transport.Scheme, error) {
	schemes := make([]transport.Scheme, 0, len(raw))

	for _, r := range raw {
		s, err := transport.SchemeOf(r)
		if err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}

		schemes = append(schemes, s)
	}

	return schemes, nil
}
