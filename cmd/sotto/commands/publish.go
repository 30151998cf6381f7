package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload the pre-key bundle to the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if directoryURL == "" {
				return fmt.Errorf("no directory configured. use --directory")
			}
			b, err := identities.PublishBundle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Published bundle for %s (%d one-time pre-keys)\n",
				b.ParticipantID, len(b.OneTimePreKeys))
			return nil
		},
	}
}
