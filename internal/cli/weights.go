package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/spatialcompare/internal/calendar"
)

func newWeightsCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Print the day weights of each band of a water year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				return fmt.Errorf("--year is required")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BAND\tMONTH\tDAYS")
			for p, days := range calendar.Weights(year) {
				month, _ := calendar.MonthOf(p)
				cy, _ := calendar.CalendarYearOf(p, year)
				fmt.Fprintf(tw, "%d\t%s %d\t%d\n", p, month.String()[:3], cy, days)
			}
			fmt.Fprintf(tw, "total\t\t%d\n", calendar.WaterYearDays(year))
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "water year")
	return cmd
}
