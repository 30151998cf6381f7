package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sotto/internal/domain"
)

// maintain runs one maintenance pass over published key material: signed
// pre-key rotation, one-time pool top-up and pruning of superseded keys.
func maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Rotate and replenish published key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := domain.DefaultConfig()

			spk, err := identities.EnsureSignedPreKey(ctx)
			if err != nil {
				return err
			}
			n, err := identities.PoolSize()
			if err != nil {
				return err
			}
			if n < cfg.OneTimePreKeyLowWater {
				if _, err := identities.ReplenishOneTimePreKeys(ctx, cfg.OneTimePreKeyPoolSize-n); err != nil {
					return err
				}
				n = cfg.OneTimePreKeyPoolSize
			}
			if err := identities.PruneSignedPreKeys(); err != nil {
				return err
			}
			if directoryURL != "" {
				if _, err := identities.PublishBundle(ctx); err != nil {
					return err
				}
			}
			fmt.Printf("Signed pre-key: %s\nOne-time pool: %d\n", spk.ID, n)
			return nil
		},
	}
}
