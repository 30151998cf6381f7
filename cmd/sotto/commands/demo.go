package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sotto/internal/crypto"
	"sotto/internal/directory"
	"sotto/internal/domain"
	"sotto/internal/services/e2ee"
	"sotto/internal/store"
)

// demo runs a complete two-party exchange in-process: both devices
// provision into throwaway stores, alice establishes a session and each
// side encrypts and decrypts one message.
func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a two-party conversation in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := directory.NewMemory()
			ex := directory.NewMemoryExchange()
			cfg := domain.DefaultConfig()

			alice, err := demoClient(ctx, "alice", dir, ex, cfg)
			if err != nil {
				return err
			}
			defer alice.Close()
			bob, err := demoClient(ctx, "bob", dir, ex, cfg)
			if err != nil {
				return err
			}
			defer bob.Close()

			keyID, err := alice.EstablishSession(ctx, "demo", []domain.ParticipantID{"bob"})
			if err != nil {
				return err
			}
			fmt.Printf("Session established: %s\n", keyID)

			env, err := alice.Encrypt(ctx, "demo", domain.PlaintextMessage{
				Content:   "hello",
				Type:      "text",
				Timestamp: time.Now().UnixMilli(),
				MessageID: "demo-1",
			})
			if err != nil {
				return err
			}
			fmt.Printf("alice -> bob: %d ciphertext bytes, key number %d\n",
				len(env.Ciphertext), env.KeyNumber)

			msg, err := bob.Decrypt(ctx, env)
			if err != nil {
				return err
			}
			fmt.Printf("bob decrypted: %q\n", msg.Content)

			reply, err := bob.Encrypt(ctx, "demo", domain.PlaintextMessage{
				Content:   "hi",
				Type:      "text",
				Timestamp: time.Now().UnixMilli(),
				MessageID: "demo-2",
			})
			if err != nil {
				return err
			}
			msg, err = alice.Decrypt(ctx, reply)
			if err != nil {
				return err
			}
			fmt.Printf("alice decrypted: %q\n", msg.Content)
			return nil
		},
	}
}

func demoClient(
	ctx context.Context,
	pid domain.ParticipantID,
	dir *directory.Memory,
	ex *directory.MemoryExchange,
	cfg domain.Config,
) (*e2ee.Service, error) {
	tmp, err := os.MkdirTemp("", "sotto-demo-"+pid.String())
	if err != nil {
		return nil, err
	}
	fs, err := store.NewFileStore(tmp)
	if err != nil {
		return nil, err
	}
	svc, err := e2ee.New(crypto.NewProvider(), fs, dir, ex, ex, pid, cfg)
	if err != nil {
		return nil, err
	}
	if err := svc.Init(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}
