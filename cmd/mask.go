package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/masking"
	"github.com/colmask/colmask/internal/report"
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Base64-encode the confidential columns of every catalogued table",
	Long: `Widen each confidential column to the unbounded text type and replace every
plaintext value with its base64 form. Values that already look encoded are
left alone, so running encode twice is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMask(cmd, masking.Encode)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode the confidential columns and restore their recorded types",
	Long: `Replace every base64 value of the confidential columns with its plaintext
and alter each column back to the type recorded by scan. Values that do not
decode are reported and kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMask(cmd, masking.Decode)
	},
}

func runMask(cmd *cobra.Command, mode masking.Mode) error {
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

	rep, err := s.mask(ctx, tableFilter, mode)
	if rep != nil {
		fmt.Fprint(cmd.OutOrStdout(), report.FormatRun(rep))
		if werr := writeReport(rep); werr != nil {
			logger.Warn("writing report", "error", werr)
		}
	}
	return err
}

func init() {
	addPassFlags(encodeCmd)
	addPassFlags(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
}
