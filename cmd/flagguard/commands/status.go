package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peoplecore/flagguard/internal/cli"
	"github.com/peoplecore/flagguard/internal/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show flag health",
	Long: `Show the health report for all monitored flags: current error rates,
window counters, configured thresholds, active cooldowns and recent
rollbacks.

Examples:
  flagguard status --env prod
  flagguard status --env prod --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _, err := cli.Resolve(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(target.BaseURL, target.APIKey)
		status, err := c.GetHealth(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get health report: %w", err)
		}

		if !quiet {
			return cli.PrintStatus(status, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
