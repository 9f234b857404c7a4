package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/schema"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the schema catalog as YAML",
	Long:  `Export the recorded column types and scan status of every catalogued table, to stdout or --out.`,
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

		s, err := openSession(ctx, cfg, logger, dbName, false)
		if err != nil {
			return err
		}
		defer s.Close()

		sch, err := schema.Export(ctx, s.store, s.dialect.Name(), s.database, s.db.Schema())
		if err != nil {
			return err
		}

		if exportOut == "" {
			data, err := sch.ToYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := sch.WriteYAML(exportOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nCatalog written to %s\n", sch.Summary(), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
