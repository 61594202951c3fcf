// Command safestreets serves the personal-safety API and offers a few
// maintenance commands that work directly against the configured backend.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"safestreets/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "safestreets",
	Short: "Personal safety reports, contacts and SOS alerts",
	Long: `safestreets keeps safety reports, emergency contacts, SOS alerts and the
user profile in a durable key/value backend and serves them over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default \""+config.ConfigPath+"\" when present)")
	rootCmd.AddCommand(serveCmd, reportsCmd, contactsCmd, alertsCmd, meCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
