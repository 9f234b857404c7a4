package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/journal"
)

var (
	historyLimit int
	historyAll   bool
	historyShow  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent scan, encode and decode runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if !cfg.JournalEnabled() {
			return errors.New("the run journal is disabled (journal.enabled: false)")
		}

		j, err := journal.Open(cfg.Journal.Path, nil)
		if err != nil {
			return err
		}
		defer j.Close()

		out := cmd.OutOrStdout()
		if historyShow != "" {
			doc, err := j.Report(ctx, historyShow)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(doc))
			return err
		}

		filter := dbName
		if filter == "" && !historyAll {
			filter = cfg.Database.Database
		}
		entries, err := j.List(ctx, filter, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tDATABASE\tOPERATION\tSTATUS\tTABLES\tCOLUMNS\tVALUES\tERROR")
		for _, e := range entries {
			cols := e.ColumnsMasked
			if e.Operation == "scan" {
				cols = e.ColumnsRecorded
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				e.ID, e.StartedAt.Local().Format(time.DateTime), e.Database, e.Operation, e.Status,
				e.Tables, cols, e.ValuesTransformed, e.Error)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "list runs of every database")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "print the full JSON report of one run")
	rootCmd.AddCommand(historyCmd)
}
