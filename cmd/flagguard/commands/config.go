package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peoplecore/flagguard/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the flagguard CLI configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a starter configuration file at ~/.flagguard/config.yaml
with a single local context.

Example:
  flagguard config init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.WriteStarterConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		configPath, _ := cli.ConfigPath()
		fmt.Printf("Configuration file created at: %s\n", configPath)
		fmt.Println("\nEdit the file or use 'flagguard config set' to point it at your server.")

		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration",
	Long: `Display the configured contexts.

Example:
  flagguard config list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("Current context: %s\n\n", cfg.CurrentContext)
		fmt.Println("Contexts:")
		for name, ctx := range cfg.Contexts {
			fmt.Printf("  %s:\n", name)
			fmt.Printf("    base_url: %s\n", ctx.BaseURL)
			// Mask API key for security
			maskedKey := "***"
			if len(ctx.APIKey) > 4 {
				maskedKey = ctx.APIKey[:4] + "***"
			}
			fmt.Printf("    api_key: %s\n", maskedKey)
		}

		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context.key> <value>",
	Short: "Set a configuration value",
	Long: `Set one field of a named context, creating the context on first use.

Examples:
  flagguard config set default.base_url http://localhost:8080
  flagguard config set prod.api_key my-secret-key`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, key, ok := strings.Cut(args[0], ".")
		if !ok || name == "" || key == "" {
			return fmt.Errorf("invalid key format, expected 'context.key' (e.g., 'prod.base_url')")
		}

		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Set(name, key, args[1]); err != nil {
			return err
		}
		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Successfully set %s.%s\n", name, key)

		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <context>",
	Short: "Switch the current context",
	Long: `Make the named context the one used when --env is not given.

Example:
  flagguard config use prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		name := args[0]
		if _, ok := cfg.Contexts[name]; !ok {
			return fmt.Errorf("context %q is not configured", name)
		}
		cfg.CurrentContext = name
		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Current context is now %s\n", name)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUseCmd)
}
