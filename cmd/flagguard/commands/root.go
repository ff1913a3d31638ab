package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagguard",
	Short: "CLI tool for flag health and rollback operations",
	Long: `Flagguard is a command-line tool for operating the flagguard service:
inspecting per-flag health, triggering manual rollbacks, restoring
rolled-back flags and browsing rollback history.

Examples:
  flagguard status --env prod
  flagguard rollback payroll-v2 --reason "incident 4711" --env prod
  flagguard restore payroll-v2 --force --env prod
  flagguard history --limit 10 --env prod`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the flagguard API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Named context from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
