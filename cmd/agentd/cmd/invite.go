package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInviteCommand() *cobra.Command {
	var outPath string

	command := &cobra.Command{
		Use:   "invite",
		Short: "Create and print an out-of-band invitation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			inv, _, err := app.Invitations.CreateInvitation()
			if err != nil {
				return fmt.Errorf("create invitation: %w", err)
			}

			data, err := json.MarshalIndent(inv, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal invitation: %w", err)
			}

			if outPath == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))

				return err
			}

			return os.WriteFile(outPath, data, 0o600)
		},
	}

	command.Flags().StringVar(&outPath, "out", "", "write the invitation JSON to a file instead of stdout")

	return command
}
