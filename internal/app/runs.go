package app

import (
	"fmt"
	"text/tabwriter"
	"time"

	"shenbaosift/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var days int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent classification runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := sqlite.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to init database: %w", err)
			}
			defer db.Close()

			runs, err := sqlite.ListRuns(db, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSOURCE\tFILE\tSTATUS\tRECORDS\tMATCHED\tMODEL\tTOOK")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s/%s\t%s\n",
					r.StartedAt.In(cfg.Location).Format("2006-01-02 15:04"),
					r.Source, r.SourceName, r.Status, r.TotalRecords, r.MatchedCount,
					r.LLMProvider, r.LLMModel, r.Duration().Round(time.Second))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			stats, err := sqlite.GetRunStats(db, now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast %d days: %d runs (%d failed), %d articles, %d matched\n",
				days, stats.TotalRuns, stats.FailedRuns, stats.TotalRecords, stats.TotalMatched)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().IntVar(&days, "days", 7, "window for the summary line")
	return cmd
}
