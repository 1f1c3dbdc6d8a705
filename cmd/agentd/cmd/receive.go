package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperpeer/agent/invitation"
)

func newReceiveCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "receive <invitation-file>",
		Short: "Receive an out-of-band invitation and run the DID-Exchange handshake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read invitation file: %w", err)
			}

			var inv invitation.OutOfBandInvitation
			if err := json.Unmarshal(data, &inv); err != nil {
				return fmt.Errorf("parse invitation: %w", err)
			}

			if err := app.Invitations.ReceiveInvitation(inv); err != nil {
				return fmt.Errorf("receive invitation: %w", err)
			}

			rec, err := app.ConnectionSvc.RequestConnection(cmd.Context(), inv)
			if err != nil {
				return fmt.Errorf("request connection: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "connection %s state=%s\n", rec.ID, rec.State)

			return err
		},
	}

	return command
}
