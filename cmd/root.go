// Package cmd implements the truebit-os command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cryptobuks/truebit-os/config"
)

// NewRootCommand builds the command tree. Each call gets its own viper
// instance so commands can be exercised in isolation.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "truebit-os",
		Short: "Solver and verifier agents for off-chain computation disputes",
		Long: `truebit-os runs solver and verifier agents against the incentive and
dispute layer contracts, and posts tasks for them to solve.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/truebit-os/config.yaml)")

	load := func(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
		for flag, key := range keys {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return nil, err
			}
		}
		if err := config.Init(v, cfgFile); err != nil {
			return nil, err
		}
		return config.Load(v)
	}

	root.AddCommand(newRunCommand(load))
	root.AddCommand(newSubmitCommand(load))
	root.AddCommand(newVersionCommand())
	return root
}

// loader reads and validates configuration. keys maps flag names of cmd to
// the config keys they override.
type loader func(cmd *cobra.Command, keys map[string]string) (*config.Config, error)

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
