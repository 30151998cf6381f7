package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sotto/internal/crypto"
	"sotto/internal/domain"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Provision the device: identity, signed pre-key and one-time pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dev, err := identities.EnsureDevice(ctx)
			if err != nil {
				return err
			}
			id, err := identities.EnsureIdentity(ctx)
			if err != nil {
				return err
			}
			if _, err := identities.EnsureSignedPreKey(ctx); err != nil {
				return err
			}
			cfg := domain.DefaultConfig()
			n, err := identities.PoolSize()
			if err != nil {
				return err
			}
			if n < cfg.OneTimePreKeyPoolSize {
				if _, err := identities.ReplenishOneTimePreKeys(ctx, cfg.OneTimePreKeyPoolSize-n); err != nil {
					return err
				}
			}
			fmt.Printf("Device %s provisioned.\nFingerprint: %s\n",
				dev.DeviceID, crypto.Fingerprint(id.DHPub.Slice()))
			return nil
		},
	}
}
