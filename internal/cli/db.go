package cli

import (
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/spatialcompare/internal/gridstore"
)

func newDBCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Maintain the SQLite grid store",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "spatialcompare.db", "SQLite database file")

	open := func() (*gridstore.SQLiteStore, error) {
		return gridstore.OpenSQLite(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// OpenSQLite migrates to the latest version.
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			v, _, err := s.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			v, dirty, err := s.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
			return nil
		},
	})

	var year int
	runs := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			list, err := s.ListRuns(cmd.Context(), year)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tYEAR\tSTATUS\tMEAN\tSKIPPED\tSTARTED")
			for _, r := range list {
				mean := "-"
				if !math.IsNaN(r.OverallMean) {
					mean = fmt.Sprintf("%.3f", r.OverallMean)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n", r.RunID, r.Year, r.Status, mean, r.Skipped, r.StartedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	runs.Flags().IntVar(&year, "year", 0, "only runs of this year")
	cmd.AddCommand(runs)

	return cmd
}
