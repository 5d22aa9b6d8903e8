// Package identity implements the `tcpmux identity` command group: generate
// (or load) the server's long-term signing key pair and print its
// fingerprint, without starting a listener.
package identity

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/tools"
	idstore "github.com/trustwire/tcpmux/identity"
)

var (
	identityFile = tools.GetenvDefault(config.EnvPrefix+"IDENTITY_FILE", config.DefaultIdentityFile)

	Cmd = &cobra.Command{
		Use:   "identity",
		Short: "Inspect or generate the server's long-term signing identity",
		Args:  cobra.NoArgs,
	}

	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Generate the identity file if absent, then print its fingerprint",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&identityFile, "file", "f", identityFile, "path of the server identity file")
	Cmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "identity-cmd").Logger()

	store, err := idstore.Load(identityFile)
	if err != nil {
		return err
	}

	logger.Info().Str("file", identityFile).Str("fingerprint", store.Fingerprint()).Msg("server identity")
	return nil
}
