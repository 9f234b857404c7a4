package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the colmask configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config: %s\n\n", configPath())
		fmt.Fprintf(out, "  Database:\n")
		fmt.Fprintf(out, "    Driver:         %s\n", cfg.Database.Driver)
		if cfg.Database.ConnectionString != "" {
			fmt.Fprintf(out, "    Connection:     %s\n", maskSecret(cfg.Database.ConnectionString))
		} else {
			fmt.Fprintf(out, "    Host:           %s\n", cfg.Database.Host)
			fmt.Fprintf(out, "    Port:           %d\n", cfg.Database.Port)
			fmt.Fprintf(out, "    Username:       %s\n", cfg.Database.Username)
			fmt.Fprintf(out, "    Password:       %s\n", maskSecret(cfg.Database.Password))
			fmt.Fprintf(out, "    SSL:            %t\n", cfg.Database.SSL)
		}
		fmt.Fprintf(out, "    Database:       %s\n", cfg.Database.Database)
		fmt.Fprintf(out, "    Schema:         %s\n", cfg.Database.Schema)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Masking:\n")
		fmt.Fprintf(out, "    Columns:        %s\n", strings.Join(cfg.Masking.ConfidentialColumns, ", "))
		fmt.Fprintf(out, "    Transactional:  %t\n", cfg.IsTransactional())
		fmt.Fprintf(out, "    Strategy:       %s\n", cfg.Masking.UpdateStrategy)
		fmt.Fprintf(out, "    Restore last:   %t\n", cfg.Masking.RestoreTypeLast)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Logging:          %s → %s (%d days)\n", cfg.Logging.Level, cfg.Logging.Directory, cfg.Logging.RetentionDays)
		if cfg.Metrics.Textfile != "" {
			fmt.Fprintf(out, "  Metrics:          %s\n", cfg.Metrics.Textfile)
		}
		if cfg.JournalEnabled() {
			fmt.Fprintf(out, "  Journal:          %s\n", cfg.Journal.Path)
		} else {
			fmt.Fprintf(out, "  Journal:          disabled\n")
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Validation errors:")
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", line)
			}
			return fmt.Errorf("config invalid")
		}
		if _, err := cfg.DSN(dbName); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Warning: %v; pass --database or use the menu\n", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
