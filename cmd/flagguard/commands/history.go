package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peoplecore/flagguard/internal/cli"
	"github.com/peoplecore/flagguard/internal/client"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent rollbacks",
	Long: `Show the most recent rollback events, newest first.

Examples:
  flagguard history --env prod
  flagguard history --limit 50 --env prod --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _, err := cli.Resolve(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(target.BaseURL, target.APIKey)
		events, err := c.History(context.Background(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}

		if !quiet {
			return cli.PrintHistory(events, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of events to show")
	rootCmd.AddCommand(historyCmd)
}
