package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the --config flag, shared by all commands.
var configPath string

// rootCmd is the top-level cobra command.
var rootCmd = &cobra.Command{
	Use:   "holtburger",
	Short: "Headless Asheron's Call protocol client",
	Long: "holtburger speaks the Asheron's Call UDP wire protocol: it logs in,\n" +
		"completes the encrypted-checksum handshake, and keeps the session\n" +
		"alive while delivering decoded game messages to the log.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to configuration file (YAML)")

	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
