package commands

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sotto/internal/crypto"
	"sotto/internal/directory"
	"sotto/internal/domain"
	identitysvc "sotto/internal/services/identity"
	"sotto/internal/store"
)

var (
	home         string
	participant  string
	directoryURL string
	verbose      bool

	identities *identitysvc.Service
	dir        domain.Directory
)

func Execute() error {
	root := &cobra.Command{
		Use:   "sotto",
		Short: "End-to-end encryption key management",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if home == "" {
				d, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(d, ".sotto")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			fs, err := store.NewFileStore(home)
			if err != nil {
				return err
			}
			if directoryURL != "" {
				dir = directory.NewHTTP(directoryURL, http.DefaultClient)
			} else {
				dir = directory.NewMemory()
			}
			identities, err = identitysvc.New(
				crypto.NewProvider(), fs, dir,
				domain.ParticipantID(participant), domain.DefaultConfig(),
			)
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.sotto)")
	root.PersistentFlags().StringVar(&participant, "as", "me", "participant id to act as")
	root.PersistentFlags().StringVar(&directoryURL, "directory", "", "directory base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(), fingerprintCmd(), publishCmd(), maintainCmd(), demoCmd())
	return root.Execute()
}
