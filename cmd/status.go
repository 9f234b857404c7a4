package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/lock"
	"github.com/colmask/colmask/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the catalog scan status of every table",
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

		live, err := s.db.ListTables(ctx)
		if err != nil {
			return err
		}
		statuses, err := s.store.Statuses(ctx)
		if err != nil {
			return err
		}
		catalogued, err := s.store.Tables(ctx)
		if err != nil {
			return err
		}

		byTable := make(map[string]int, len(statuses))
		for i, st := range statuses {
			byTable[st.Table] = i
		}
		hasRows := make(map[string]bool, len(catalogued))
		for _, t := range catalogued {
			hasRows[t] = true
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s (%s)\n", s.database, s.dialect.Name())
		if held, pid, _ := lock.IsHeld(lock.PathFor(s.dialect.Name(), cfg.Database.Host, s.database)); held {
			fmt.Fprintf(out, "Lock:     held by PID %d\n", pid)
		}
		if st, err := state.Load(""); err == nil {
			if last, ok := st.Last(s.database); ok {
				fmt.Fprintf(out, "Last run: %s %s at %s\n", last.Operation, last.Status, last.At.Format(time.RFC3339))
			}
		}
		fmt.Fprintln(out)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tSTATUS\tUPDATED\tERROR")
		for _, t := range live {
			status, updated, msg := "not scanned", "", ""
			if i, ok := byTable[t]; ok {
				st := statuses[i]
				status = string(st.Status)
				updated = st.UpdatedAt.Format(time.RFC3339)
				msg = st.Error
			} else if hasRows[t] {
				status = "scanned (no status)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t, status, updated, msg)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%d tables, %d catalogued; catalog tables %v are not listed\n",
			len(live), len(catalogued), s.dialect.InternalTables())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
