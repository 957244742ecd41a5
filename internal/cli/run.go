package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/spatialcompare/internal/pipeline"
	"github.com/banshee-data/spatialcompare/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		year        int
		debug       bool
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the comparison for one year, or every configured year",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := FromCommand(cmd)
			cfg, err := c.requireConfig("run")
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			m := telemetry.New()
			opts := []pipeline.Option{pipeline.WithLogger(c.Logger.Named("pipeline")), pipeline.WithMetrics(m)}
			// The flag overrides the file without touching the loaded config.
			if cmd.Flags().Changed("debug") {
				var sink pipeline.DebugSink = pipeline.NopSink
				if debug {
					sink = pipeline.StoreSink(store)
				}
				opts = append(opts, pipeline.WithDebugSink(sink))
			}
			p := pipeline.New(store, opts...)

			var results []*pipeline.Result
			if year != 0 {
				res, err := p.RunYear(cmd.Context(), cfg, year)
				if err != nil {
					return err
				}
				results = append(results, res)
			} else {
				results, err = p.RunAll(cmd.Context(), cfg)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "year %d: %d sources, overall mean %.3f", r.Year, len(r.Sources), r.Summary.OverallMean)
				if r.Categories != nil {
					fmt.Fprintf(out, ", %d categories (%d skipped)", len(r.Categories.Means), len(r.Categories.Skipped))
				}
				if r.RunID != "" {
					fmt.Fprintf(out, ", run %s", r.RunID)
				}
				fmt.Fprintln(out)
			}

			if metricsFile != "" {
				return m.WriteTextfile(metricsFile)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "water year to run (default: all configured years)")
	cmd.Flags().BoolVar(&debug, "debug", false, "persist each source's annual grid as <source>_annual")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	return cmd
}
