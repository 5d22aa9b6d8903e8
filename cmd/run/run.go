package run

import (
	"github.com/spf13/cobra"

	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/tools"
)

var (
	configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "config.yaml")
	Cmd        = &cobra.Command{
		Use:   "run",
		Short: "Run the tcpmux reference server or client",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
	Cmd.AddCommand(serverCmd)
	Cmd.AddCommand(clientCmd)
}
