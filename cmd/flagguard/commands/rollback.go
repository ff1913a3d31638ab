package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peoplecore/flagguard/internal/cli"
	"github.com/peoplecore/flagguard/internal/client"
)

var rollbackReason string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <flag>",
	Short: "Disable a flag immediately",
	Long: `Disable a flag on operator authority. The flag's usage window is reset
and a cooldown starts; use restore to re-enable it.

Examples:
  flagguard rollback payroll-v2 --reason "incident 4711" --env prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag := args[0]

		target, _, err := cli.Resolve(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(target.BaseURL, target.APIKey)
		event, err := c.Rollback(context.Background(), flag, rollbackReason)
		if err != nil {
			return fmt.Errorf("failed to roll back flag: %w", err)
		}

		if !quiet {
			fmt.Printf("Flag '%s' rolled back (event %s). Cooldown until %s.\n",
				flag, event.ID, event.CooldownUntil.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Reason for the rollback (required)")
	_ = rollbackCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(rollbackCmd)
}
