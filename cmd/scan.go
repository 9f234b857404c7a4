package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/report"
)

var (
	tableFilter []string
	reportPath  string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Record every column's declared type in the schema catalog",
	Long: `Capture the declared type of each column into the catalog tables of the
database. Tables already scanned are skipped; tables whose last scan failed
are completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		logger, closeLog, err := setupLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		s, err := openSession(ctx, cfg, logger, dbName, true)
		if err != nil {
			return err
		}
		defer s.Close()

		rep, err := s.scan(ctx, tableFilter)
		if rep != nil {
			fmt.Fprint(cmd.OutOrStdout(), report.FormatScan(rep))
			if werr := writeReport(rep); werr != nil {
				logger.Warn("writing report", "error", werr)
			}
		}
		return err
	},
}

func writeReport(v any) error {
	if reportPath == "" {
		return nil
	}
	return report.WriteJSON(v, reportPath)
}

func addPassFlags(c *cobra.Command) {
	c.Flags().StringSliceVar(&tableFilter, "table", nil, "only process these tables (repeatable; default: every table)")
	c.Flags().StringVar(&reportPath, "report", "", "also write the run report as JSON to this path")
}

func init() {
	addPassFlags(scanCmd)
	rootCmd.AddCommand(scanCmd)
}
