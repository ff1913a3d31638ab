package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/peoplecore/flagguard/internal/cli"
	"github.com/peoplecore/flagguard/internal/client"
)

var restoreForce bool

var restoreCmd = &cobra.Command{
	Use:   "restore <flag>",
	Short: "Re-enable a rolled-back flag",
	Long: `Re-enable a flag that was disabled by a rollback. While the cooldown is
still running the restore is refused unless --force is given.

Examples:
  flagguard restore payroll-v2 --env prod
  flagguard restore payroll-v2 --force --env prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag := args[0]

		target, _, err := cli.Resolve(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(target.BaseURL, target.APIKey)
		result, err := c.Restore(context.Background(), flag, restoreForce)
		if err != nil {
			return fmt.Errorf("failed to restore flag: %w", err)
		}

		if !result.Success {
			if result.RemainingMs > 0 {
				return fmt.Errorf("%s (retry in %s or use --force)",
					result.Message, (time.Duration(result.RemainingMs) * time.Millisecond).Round(time.Second))
			}
			return fmt.Errorf("%s", result.Message)
		}

		if !quiet {
			fmt.Println(result.Message)
		}
		return nil
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Override an active cooldown")
	rootCmd.AddCommand(restoreCmd)
}
