package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sotto/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identities.EnsureIdentity(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(id.DHPub.Slice()))
			return nil
		},
	}
}
