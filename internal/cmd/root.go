// Package cmd wires the command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tokenforge",
	Short: "Concurrent token acquisition across regions",
	Long: `tokenforge acquires authentication tokens for many independent accounts
grouped by region, spreading load across multiple issuance endpoints with
global rate-limit coordination, and publishes the consolidated results as
region-scoped artifacts.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.BoolP("verbose", "v", false, "verbose output (sets log level to debug)")
	pf.Bool("pretty", false, "human-readable console logs instead of JSON")

	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = viper.BindPFlag("pretty", pf.Lookup("pretty"))
}

// initConfig binds environment variables: every flag is also reachable as
// TOKENFORGE_<FLAG> with dashes replaced by underscores.
func initConfig() {
	viper.SetEnvPrefix("TOKENFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
